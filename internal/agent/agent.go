// Package agent holds the control-room operator accounts. Accounts are
// seeded from configuration at startup; session ownership references them by
// id.
package agent

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Agent is one control-room operator. Superusers oversee every session and
// subscribe to the firehose channel.
type Agent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Superuser bool   `json:"superuser"`

	passwordHash []byte
}

// Store exposes agent lookup and credential checks.
type Store interface {
	FindByID(id string) (Agent, bool)
	FindByName(name string) (Agent, bool)
	Authenticate(name, password string) (Agent, error)
}

// MemoryStore implements Store over the seeded account list.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Agent
}

// Seed describes one account to create at startup.
type Seed struct {
	Name      string
	Password  string
	Superuser bool
}

// NewMemoryStore hashes the seed passwords and returns the populated store.
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{}
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" || seed.Password == "" {
			return nil, errors.New("agent seed requires name and password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		store.items = append(store.items, Agent{
			ID:           uuid.NewString(),
			Name:         name,
			Superuser:    seed.Superuser,
			passwordHash: hash,
		})
	}
	return store, nil
}

// FindByID looks up an agent by identifier.
func (s *MemoryStore) FindByID(id string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Agent{}, false
}

// FindByName looks up an agent by account name.
func (s *MemoryStore) FindByName(name string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Name == name {
			return item, true
		}
	}
	return Agent{}, false
}

// Authenticate checks an account name and password. Unknown names and wrong
// passwords return the same error so login probes learn nothing.
func (s *MemoryStore) Authenticate(name, password string) (Agent, error) {
	found, ok := s.FindByName(name)
	if !ok {
		// Burn comparable time so missing accounts aren't distinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Agent{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(found.passwordHash, []byte(password)); err != nil {
		return Agent{}, ErrInvalidCredentials
	}
	return found, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("control-room-dummy"), bcrypt.DefaultCost)
