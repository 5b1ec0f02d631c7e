package ddp

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// ReadyCallback is invoked exactly once when a subscription attempt
// settles: ok is true and err is nil on "ready", false with err set on
// "nosub".
type ReadyCallback func(err json.RawMessage, ok bool)

// subscriptions maps a subscription id to its pending readiness
// listeners. A profile is created lazily the first time a collection is
// subscribed or given a readiness listener; it is removed the moment
// readiness (or failure) is delivered, draining every listener exactly
// once.
type subscriptions struct {
	mu        sync.Mutex
	listeners map[string][]ReadyCallback
	ids       *RandomIDSource
	queue     *outboundQueue
	logger    *slog.Logger
}

func newSubscriptions(ids *RandomIDSource, queue *outboundQueue, logger *slog.Logger) *subscriptions {
	return &subscriptions{
		listeners: make(map[string][]ReadyCallback),
		ids:       ids,
		queue:     queue,
		logger:    logger,
	}
}

// ensureProfileLocked assigns a fresh id into *slot if empty, installing
// an empty listener list for it. Caller must hold s.mu.
func (s *subscriptions) ensureProfileLocked(slot *string) string {
	if *slot == "" {
		id := s.ids.ID()
		s.listeners[id] = nil
		*slot = id
	}
	return *slot
}

// Subscribe ensures slot has a sub id, then sends a "sub" frame for name.
func (s *subscriptions) Subscribe(name string, slot *string) {
	s.mu.Lock()
	id := s.ensureProfileLocked(slot)
	s.mu.Unlock()

	frame, err := EncodeSub(id, name, nil)
	if err != nil {
		s.logger.Error("ddp: failed to encode sub frame", "name", name, "error", err)
		return
	}
	s.queue.Push(frame)
}

// AddListener ensures slot has a sub id, then appends cb to its
// readiness listeners.
func (s *subscriptions) AddListener(slot *string, cb ReadyCallback) {
	s.mu.Lock()
	id := s.ensureProfileLocked(slot)
	s.listeners[id] = append(s.listeners[id], cb)
	s.mu.Unlock()
}

// Unsubscribe sends "unsub" for the id held in *slot, if any, then clears
// the slot and drops any still-pending readiness listeners (no response
// will ever arrive for them now). A no-op when *slot is empty.
func (s *subscriptions) Unsubscribe(slot *string) {
	s.mu.Lock()
	id := *slot
	*slot = ""
	if id != "" {
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	if id == "" {
		return
	}
	s.queue.Push(EncodeUnsub(id))
}

// NotifyReady delivers success to every id in ids (a batch "ready"
// frame may list several).
func (s *subscriptions) NotifyReady(ids []string) {
	for _, id := range ids {
		s.deliver(id, nil, true)
	}
}

// NotifyError delivers failure to id (from a "nosub" frame).
func (s *subscriptions) NotifyError(id string, errValue json.RawMessage) {
	s.deliver(id, errValue, false)
}

func (s *subscriptions) deliver(id string, errValue json.RawMessage, ok bool) {
	s.mu.Lock()
	cbs, exists := s.listeners[id]
	if exists {
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	if !exists {
		// Readiness for an id we never registered a profile for (or
		// already delivered). Silently ignored per protocol design.
		s.logger.Debug("ddp: ready/nosub for unknown subscription id", "id", id)
		return
	}
	for _, cb := range cbs {
		cb(errValue, ok)
	}
}
