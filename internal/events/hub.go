// Package events fans case narration out to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultKeepAlive is the interval between keep-alive pings on an idle stream.
const DefaultKeepAlive = 15 * time.Second

// Sink is one live connection for a case.
type Sink interface {
	// Send writes one serialized event.
	Send(data []byte) error
	// Ping writes a keep-alive that carries no event.
	Ping() error
}

// subscriber serializes writes to a sink so events stay ordered per connection.
// Once closed, the sink is never written again.
type subscriber struct {
	mu     sync.Mutex
	sink   Sink
	closed bool
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.sink.Send(data)
}

func (s *subscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.sink.Ping()
}

// close waits for an in-flight write to finish and blocks later ones.
func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Hub keeps the per-case subscriber sets. Delivery is best effort: no backlog,
// no replay, and a failing sink never affects the publisher.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*subscriber]struct{}
	keepAlive time.Duration
	logger    *zap.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithKeepAlive sets the ping interval used by Serve.
func WithKeepAlive(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:      make(map[string]map[*subscriber]struct{}),
		keepAlive: DefaultKeepAlive,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers sink for caseID. The returned function removes it; calling it
// more than once is harmless. Once it returns, sink is never written again.
func (h *Hub) Subscribe(caseID string, sink Sink) func() {
	_, unsubscribe := h.subscribe(caseID, sink)
	return unsubscribe
}

func (h *Hub) subscribe(caseID string, sink Sink) (*subscriber, func()) {
	sub := &subscriber{sink: sink}
	h.mu.Lock()
	set, ok := h.subs[caseID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[caseID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("subscriber added", zap.String("case_id", caseID))

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[caseID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, caseID)
				}
			}
			h.mu.Unlock()
			sub.close()
			h.logger.Debug("subscriber removed", zap.String("case_id", caseID))
		})
	}
}

// Publish serializes payload once and writes it to every subscriber of caseID.
func (h *Hub) Publish(caseID string, payload interface{}) {
	targets := h.snapshot(caseID)
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("event not serializable", zap.String("case_id", caseID), zap.Error(err))
		return
	}
	for _, sub := range targets {
		if err := sub.send(data); err != nil {
			h.logger.Debug("event write failed", zap.String("case_id", caseID), zap.Error(err))
		}
	}
}

// Subscribers returns the number of live subscribers for caseID.
func (h *Hub) Subscribers(caseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[caseID])
}

// Serve subscribes sink, pings it every keep-alive interval and unsubscribes when ctx ends.
func (h *Hub) Serve(ctx context.Context, caseID string, sink Sink) {
	sub, unsubscribe := h.subscribe(caseID, sink)
	defer unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.ping(); err != nil {
				h.logger.Debug("keep-alive failed", zap.String("case_id", caseID), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) snapshot(caseID string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[caseID]
	out := make([]*subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}
