// Package hub tracks the sessions currently subscribed to telemetry pushes.
package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDeliveryFailure marks a push that did not reach one subscriber.
var ErrDeliveryFailure = errors.New("delivery failure")

// Subscriber is one viewer's outbound channel. Send must not block for long;
// the registry calls it while fanning out to everyone else.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Closed() bool
}

// Registry is a concurrency-safe set of subscribers keyed by session ID.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]Subscriber)}
}

// Add inserts s. Adding an ID that is already present keeps the existing
// entry and reports false.
func (r *Registry) Add(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.ID()]; ok {
		return false
	}
	r.subs[s.ID()] = s
	return true
}

// Remove deletes the subscriber with the given ID and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Len returns the number of registered subscribers, open or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// IDs returns the registered session IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ForEachOpen calls fn once per subscriber that is open when visited.
// Membership is captured when the call starts; fn runs without the lock
// held, so it may Add or Remove freely.
func (r *Registry) ForEachOpen(fn func(Subscriber)) {
	r.mu.RLock()
	members := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		members = append(members, s)
	}
	r.mu.RUnlock()

	for _, s := range members {
		if s.Closed() {
			continue
		}
		fn(s)
	}
}

// Report summarizes one fan-out.
type Report struct {
	Delivered int
	Failures  []error
}

// Failed returns the number of failed deliveries.
func (rep Report) Failed() int {
	return len(rep.Failures)
}

// Broadcast pushes payload to every open subscriber. A failed send is
// recorded and the fan-out continues; nobody is removed here.
func (r *Registry) Broadcast(payload []byte) Report {
	var rep Report
	r.ForEachOpen(func(s Subscriber) {
		if err := s.Send(payload); err != nil {
			rep.Failures = append(rep.Failures, fmt.Errorf("%w: session %s: %w", ErrDeliveryFailure, s.ID(), err))
			return
		}
		rep.Delivered++
	})
	return rep
}
