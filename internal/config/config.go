package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/verist/control-room/backend/internal/agent"
)

// Config aggregates every setting the service reads at startup.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Sessions SessionConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	database := loadDatabaseConfig()

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	sessions, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Database: database, Auth: auth, Sessions: sessions}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string
	JoinTimeout time.Duration
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	joinSeconds := 10
	if override, err := parseOptionalIntEnv("WS_JOIN_TIMEOUT_SECONDS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override > 0 {
		joinSeconds = *override
	}

	return ServerConfig{
		Addr:        addr,
		JoinTimeout: time.Duration(joinSeconds) * time.Second,
	}, nil
}

// DatabaseConfig selects the persistence backend. An empty driver keeps
// everything in memory, which is what the test suites use.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// Persistent reports whether a database-backed store was requested.
func (c DatabaseConfig) Persistent() bool {
	return c.Driver != ""
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: strings.ToLower(strings.TrimSpace(os.Getenv("DATABASE_DRIVER"))),
		DSN:    strings.TrimSpace(os.Getenv("DATABASE_DSN")),
	}
}

// AuthConfig covers token signing and the seeded agent accounts.
type AuthConfig struct {
	SigningKey []byte
	GuestTTL   time.Duration
	AgentTTL   time.Duration
	Seeds      []agent.Seed
}

func loadAuthConfig() (AuthConfig, error) {
	key := strings.TrimSpace(os.Getenv("AUTH_SIGNING_KEY"))
	if key == "" {
		return AuthConfig{}, fmt.Errorf("AUTH_SIGNING_KEY is required")
	}

	guestMinutes := 60
	if override, err := parseOptionalIntEnv("GUEST_TOKEN_TTL_MINUTES"); err != nil {
		return AuthConfig{}, err
	} else if override != nil && *override > 0 {
		guestMinutes = *override
	}

	agentMinutes := 12 * 60
	if override, err := parseOptionalIntEnv("AGENT_TOKEN_TTL_MINUTES"); err != nil {
		return AuthConfig{}, err
	} else if override != nil && *override > 0 {
		agentMinutes = *override
	}

	seeds, err := parseAgentSeeds(os.Getenv("AGENT_SEED"))
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		SigningKey: []byte(key),
		GuestTTL:   time.Duration(guestMinutes) * time.Minute,
		AgentTTL:   time.Duration(agentMinutes) * time.Minute,
		Seeds:      seeds,
	}, nil
}

// parseAgentSeeds parses AGENT_SEED, a comma-separated list of
// "name:password" or "name:password:super" entries.
func parseAgentSeeds(raw string) ([]agent.Seed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var seeds []agent.Seed
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid AGENT_SEED entry %q: want name:password[:super]", entry)
		}
		seed := agent.Seed{Name: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "super" {
				return nil, fmt.Errorf("invalid AGENT_SEED entry %q: third field must be \"super\"", entry)
			}
			seed.Superuser = true
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// SessionConfig tunes case id allocation and the user-facing KYC hand-off.
type SessionConfig struct {
	CaseIDPrefix   string
	KycRedirectURL string
}

func loadSessionConfig() (SessionConfig, error) {
	prefix := getEnvOrDefault("CASE_ID_PREFIX", "CS")
	if strings.ContainsAny(prefix, " -") {
		return SessionConfig{}, fmt.Errorf("invalid CASE_ID_PREFIX value: %q", prefix)
	}

	return SessionConfig{
		CaseIDPrefix:   prefix,
		KycRedirectURL: getEnvOrDefault("KYC_REDIRECT_URL", "/kyc"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
