// Package registry implements the many-to-many map from a user to their
// live client connections, and fans out notifications to them.
package registry

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/user"
)

// ConnectionID is a process-unique, monotonically assigned connection
// identifier. It is never reused.
type ConnectionID uint64

// Sink is the narrow capability a session exposes to the registry: accept a
// message for best-effort delivery, and report whether it is still open.
// The registry never reads the peer socket through a Sink and never blocks
// on it — overflow or closure is the sink implementation's own concern.
type Sink interface {
	// Send enqueues message for delivery to the peer. It returns false if
	// the sink can no longer accept messages (closed, or its buffer
	// overflowed and triggered a close). Send must not block on network I/O.
	Send(message string) bool
}

const shardCount = 16

type shard struct {
	mu    sync.Mutex
	users map[user.ID]map[ConnectionID]Sink
}

// Registry is a thread-safe many-to-many map of UserId -> set of live
// sinks for that user. Every operation snapshots the state it needs under
// the shard lock and releases it before doing anything that could block,
// per the no-await-under-lock rule for this component.
type Registry struct {
	shards  [shardCount]*shard
	nextID  atomic.Uint64
	metrics *metrics.Metrics
}

// New constructs an empty Registry. metrics may be nil in tests.
func New(m *metrics.Metrics) *Registry {
	r := &Registry{metrics: m}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[user.ID]map[ConnectionID]Sink)}
	}
	return r
}

func (r *Registry) shardFor(u user.ID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(u))
	return r.shards[h.Sum32()%shardCount]
}

// Add registers sink under user, allocating a fresh ConnectionID.
func (r *Registry) Add(u user.ID, sink Sink) ConnectionID {
	id := ConnectionID(r.nextID.Add(1))
	s := r.shardFor(u)

	s.mu.Lock()
	conns, ok := s.users[u]
	if !ok {
		conns = make(map[ConnectionID]Sink)
		s.users[u] = conns
	}
	conns[id] = sink
	s.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
	return id
}

// Remove drops the connection id for user, if present. A missing entry is a
// no-op — this makes Remove idempotent, so double teardown (e.g. an error
// path racing the normal close path) is harmless.
func (r *Registry) Remove(u user.ID, id ConnectionID) {
	s := r.shardFor(u)

	removed := false
	s.mu.Lock()
	if conns, ok := s.users[u]; ok {
		if _, present := conns[id]; present {
			delete(conns, id)
			removed = true
		}
		if len(conns) == 0 {
			delete(s.users, u)
		}
	}
	s.mu.Unlock()

	if removed && r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
}

// SendToUser enqueues message onto every sink currently registered for
// user. Sends to distinct sinks may interleave arbitrarily (spec G2); a sink
// whose Send reports false is simply skipped — a slow or dead peer never
// blocks delivery to anyone else. A user with no connections is a prompt
// no-op.
func (r *Registry) SendToUser(u user.ID, message string) {
	s := r.shardFor(u)

	s.mu.Lock()
	conns := s.users[u]
	sinks := make([]Sink, 0, len(conns))
	for _, sink := range conns {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		if sink.Send(message) {
			if r.metrics != nil {
				r.metrics.NotificationsSent.Inc()
			}
		} else if r.metrics != nil {
			r.metrics.NotificationsDropped.Inc()
		}
	}
}

// ConnectionCount returns the number of live connections for user, for
// tests and diagnostics.
func (r *Registry) ConnectionCount(u user.ID) int {
	s := r.shardFor(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[u])
}
