// Package realtime is the broadcast fabric: best-effort fan-out of
// orchestrator events to currently connected sockets. Nothing here is
// durable; reconnecting clients re-fetch state over HTTP.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
)

var ErrHubClosed = errors.New("hub closed")

type subscription struct {
	client   *Client
	channels []string
	done     chan struct{}
}

type publication struct {
	payload  []byte
	channels []string
}

// Hub routes published events to channel members. All membership state is
// owned by the run loop, so joins, leaves, and publishes never race.
type Hub struct {
	register   chan subscription
	unregister chan subscription
	publish    chan publication

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub builds a hub; call Run on its own goroutine before use.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan subscription),
		unregister: make(chan subscription),
		publish:    make(chan publication, 64),
		done:       make(chan struct{}),
	}
}

// Run services membership and publish operations until Close.
func (h *Hub) Run() {
	channels := make(map[string]map[*Client]struct{})
	memberships := make(map[*Client][]string)

	for {
		select {
		case <-h.done:
			for client := range memberships {
				close(client.send)
			}
			return

		case sub := <-h.register:
			for _, name := range sub.channels {
				members, ok := channels[name]
				if !ok {
					members = make(map[*Client]struct{})
					channels[name] = members
				}
				members[sub.client] = struct{}{}
			}
			memberships[sub.client] = append(memberships[sub.client], sub.channels...)
			close(sub.done)

		case sub := <-h.unregister:
			if joined, ok := memberships[sub.client]; ok {
				for _, name := range joined {
					if members := channels[name]; members != nil {
						delete(members, sub.client)
						if len(members) == 0 {
							delete(channels, name)
						}
					}
				}
				delete(memberships, sub.client)
				close(sub.client.send)
			}
			close(sub.done)

		case pub := <-h.publish:
			// Collect the member set across every target channel first so a
			// socket subscribed to more than one of them still receives the
			// event exactly once.
			recipients := make(map[*Client]struct{})
			for _, name := range pub.channels {
				for client := range channels[name] {
					recipients[client] = struct{}{}
				}
			}
			for client := range recipients {
				select {
				case client.send <- pub.payload:
				default:
					// Slow consumer; delivery is at-most-once by contract.
					log.Printf("[hub] dropping event for slow client")
				}
			}
		}
	}
}

// Close shuts the hub down and closes every client send channel.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Subscribe joins client to the named channels, waiting at most until ctx
// expires. A timed-out join leaves the client unsubscribed so the caller can
// fail the connection instead of hanging.
func (h *Hub) Subscribe(ctx context.Context, client *Client, channelNames ...string) error {
	sub := subscription{client: client, channels: channelNames, done: make(chan struct{})}
	select {
	case h.register <- sub:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-sub.done:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe removes client from all of its channels and closes its send
// queue. Safe to call once per client.
func (h *Hub) Unsubscribe(client *Client) {
	sub := subscription{client: client, done: make(chan struct{})}
	select {
	case h.unregister <- sub:
		<-sub.done
	case <-h.done:
	}
}

// Publish fans event out to each named channel's members, at most once per
// socket. Failure to enqueue never blocks the caller beyond the hub queue.
func (h *Hub) Publish(event Event, channelNames ...string) error {
	if len(channelNames) == 0 {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.publish <- publication{payload: payload, channels: channelNames}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}
