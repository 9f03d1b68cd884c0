// Millwright - Factory Floor Telemetry Sync and Live Notifications
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/millwright

package websocket

import (
	"sort"
	"sync"

	"github.com/tomtom215/millwright/internal/metrics"
	"github.com/tomtom215/millwright/internal/notify"
)

// Registry maps live connections to the topics they have opted into. Keys
// are opaque connection IDs; the transport object never enters the registry,
// which keeps it testable without a network and keeps lifecycle enforcement
// at the hub's register/unregister call sites.
type Registry struct {
	mu sync.RWMutex

	// topics holds topic -> member connection IDs; conns holds the reverse
	// index so Unregister can clear every membership without scanning.
	topics map[notify.Topic]map[string]struct{}
	conns  map[string]map[notify.Topic]struct{}
}

// NewRegistry creates an empty registry with every valid topic present.
func NewRegistry() *Registry {
	topics := make(map[notify.Topic]map[string]struct{}, len(notify.Topics()))
	for _, t := range notify.Topics() {
		topics[t] = make(map[string]struct{})
	}
	return &Registry{
		topics: topics,
		conns:  make(map[string]map[notify.Topic]struct{}),
	}
}

// Register adds a connection subscribed to the "all" topic. Registering an
// already-known connection is a no-op.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return
	}
	r.conns[connID] = map[notify.Topic]struct{}{notify.TopicAll: {}}
	r.topics[notify.TopicAll][connID] = struct{}{}
	r.updateGaugesLocked()
}

// Subscribe adds the connection to each named topic. Unknown topic names and
// names the connection requested while unregistered are returned in
// rejected; valid additions are returned in added. Already-held topics are
// silently kept.
func (r *Registry) Subscribe(connID string, names ...string) (added []notify.Topic, rejected []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connID]
	if !ok {
		return nil, names
	}

	for _, name := range names {
		if !notify.IsValidTopic(name) {
			rejected = append(rejected, name)
			continue
		}
		topic := notify.Topic(name)
		if _, has := held[topic]; has {
			continue
		}
		held[topic] = struct{}{}
		r.topics[topic][connID] = struct{}{}
		added = append(added, topic)
	}

	r.updateGaugesLocked()
	return added, rejected
}

// Unsubscribe removes the connection from each named topic. Unknown names
// are returned in rejected. Removing a topic the connection never held is a
// no-op.
func (r *Registry) Unsubscribe(connID string, names ...string) (removed []notify.Topic, rejected []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connID]
	if !ok {
		return nil, names
	}

	for _, name := range names {
		if !notify.IsValidTopic(name) {
			rejected = append(rejected, name)
			continue
		}
		topic := notify.Topic(name)
		if _, has := held[topic]; !has {
			continue
		}
		delete(held, topic)
		delete(r.topics[topic], connID)
		removed = append(removed, topic)
	}

	r.updateGaugesLocked()
	return removed, rejected
}

// Unregister removes the connection from every topic it belonged to,
// including "all". Safe to call for unknown connections.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.conns[connID]
	if !ok {
		return
	}
	for topic := range held {
		delete(r.topics[topic], connID)
	}
	delete(r.conns, connID)
	r.updateGaugesLocked()
}

// MembersOf returns the connection IDs subscribed to topic, sorted for
// deterministic fan-out order.
func (r *Registry) MembersOf(topic notify.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// TopicsOf returns the topics a connection currently holds, in the stable
// topic order. Returns nil for unknown connections.
func (r *Registry) TopicsOf(connID string) []notify.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held, ok := r.conns[connID]
	if !ok {
		return nil
	}
	topics := make([]notify.Topic, 0, len(held))
	for _, t := range notify.Topics() {
		if _, has := held[t]; has {
			topics = append(topics, t)
		}
	}
	return topics
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TopicCounts returns the subscriber count per topic.
func (r *Registry) TopicCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.topics))
	for topic, members := range r.topics {
		counts[string(topic)] = len(members)
	}
	return counts
}

// updateGaugesLocked refreshes the per-topic subscription gauges. Caller
// holds mu.
func (r *Registry) updateGaugesLocked() {
	for topic, members := range r.topics {
		metrics.WSSubscriptions.WithLabelValues(string(topic)).Set(float64(len(members)))
	}
}
