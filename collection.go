package ddp

import (
	"encoding/json"
	"sync"
)

// AddHandler is invoked for each "added" event the subscription delivers
// for this collection.
type AddHandler func(docID string, fields json.RawMessage)

// ChangeHandler is invoked for each "changed" event.
type ChangeHandler func(docID string, fields, cleared json.RawMessage)

// RemoveHandler is invoked for each "removed" event.
type RemoveHandler func(docID string)

// ListenerKind identifies which of a CollectionHandle's three listener
// tables a ListenerID refers to.
type ListenerKind int

const (
	ListenerAdded ListenerKind = iota
	ListenerChanged
	ListenerRemoved
)

// ListenerID identifies a single registered listener so it can later be
// removed with ClearListener.
type ListenerID struct {
	Kind ListenerKind
	Key  uint32
}

// CollectionHandle is the per-collection fan-out point: it carries the
// add/change/remove listener tables and the collection's publication
// state (subscription id). There is exactly one handle per collection
// name within a Connection; Connection.Mongo returns the same handle for
// equal names every time.
type CollectionHandle struct {
	name    string
	methods *pendingMethods
	subs    *subscriptions
	queue   *outboundQueue
	ids     *RandomIDSource

	mu              sync.RWMutex
	addListeners    map[uint32]AddHandler
	changeListeners map[uint32]ChangeHandler
	removeListeners map[uint32]RemoveHandler
	nextKey         uint32

	// subID is the collection's subscription id slot. Its mutual
	// exclusion is provided by subs' own lock (see subscriptions.go),
	// not h.mu — it is only ever touched via subs.Subscribe/AddListener/
	// Unsubscribe, which all take &h.subID.
	subID string
}

func newCollectionHandle(name string, methods *pendingMethods, subs *subscriptions, queue *outboundQueue, ids *RandomIDSource) *CollectionHandle {
	return &CollectionHandle{
		name:            name,
		methods:         methods,
		subs:            subs,
		queue:           queue,
		ids:             ids,
		addListeners:    make(map[uint32]AddHandler),
		changeListeners: make(map[uint32]ChangeHandler),
		removeListeners: make(map[uint32]RemoveHandler),
	}
}

// Name returns the collection name this handle was created for.
func (h *CollectionHandle) Name() string { return h.name }

// Subscribe sends a "sub" frame for this collection, assigning a fresh
// subscription id if one isn't already assigned.
func (h *CollectionHandle) Subscribe() { h.subs.Subscribe(h.name, &h.subID) }

// Unsubscribe sends "unsub" for the active subscription, if any, and
// clears it. A no-op when no subscription is active. A later Subscribe
// starts a fresh subscription id.
func (h *CollectionHandle) Unsubscribe() { h.subs.Unsubscribe(&h.subID) }

// OnReady registers cb to be invoked once the pending (or next)
// subscription attempt settles.
func (h *CollectionHandle) OnReady(cb ReadyCallback) { h.subs.AddListener(&h.subID, cb) }

// OnAdd registers a listener for "added" events and returns a
// ListenerID that can later be passed to ClearListener.
func (h *CollectionHandle) OnAdd(fn AddHandler) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextKey++
	key := h.nextKey
	h.addListeners[key] = fn
	return ListenerID{Kind: ListenerAdded, Key: key}
}

// OnChange registers a listener for "changed" events.
func (h *CollectionHandle) OnChange(fn ChangeHandler) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextKey++
	key := h.nextKey
	h.changeListeners[key] = fn
	return ListenerID{Kind: ListenerChanged, Key: key}
}

// OnRemove registers a listener for "removed" events.
func (h *CollectionHandle) OnRemove(fn RemoveHandler) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextKey++
	key := h.nextKey
	h.removeListeners[key] = fn
	return ListenerID{Kind: ListenerRemoved, Key: key}
}

// ClearListener deregisters a previously registered listener. After it
// returns, no further invocation of that listener occurs for events
// received afterward.
func (h *CollectionHandle) ClearListener(id ListenerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch id.Kind {
	case ListenerAdded:
		delete(h.addListeners, id.Key)
	case ListenerChanged:
		delete(h.changeListeners, id.Key)
	case ListenerRemoved:
		delete(h.removeListeners, id.Key)
	}
}

// notifyAdd fans an "added" event out to every add listener registered
// at the moment of the call, snapshotted under RLock so no user handler
// ever runs while the table lock is held.
func (h *CollectionHandle) notifyAdd(docID string, fields json.RawMessage) {
	h.mu.RLock()
	snapshot := make([]AddHandler, 0, len(h.addListeners))
	for _, fn := range h.addListeners {
		snapshot = append(snapshot, fn)
	}
	h.mu.RUnlock()
	for _, fn := range snapshot {
		fn(docID, fields)
	}
}

func (h *CollectionHandle) notifyChange(docID string, fields, cleared json.RawMessage) {
	h.mu.RLock()
	snapshot := make([]ChangeHandler, 0, len(h.changeListeners))
	for _, fn := range h.changeListeners {
		snapshot = append(snapshot, fn)
	}
	h.mu.RUnlock()
	for _, fn := range snapshot {
		fn(docID, fields, cleared)
	}
}

func (h *CollectionHandle) notifyRemove(docID string) {
	h.mu.RLock()
	snapshot := make([]RemoveHandler, 0, len(h.removeListeners))
	for _, fn := range h.removeListeners {
		snapshot = append(snapshot, fn)
	}
	h.mu.RUnlock()
	for _, fn := range snapshot {
		fn(docID)
	}
}

func (h *CollectionHandle) opName(op string) string { return "/" + h.name + "/" + op }

// Insert calls the collection's insert method with doc as its sole
// argument.
func (h *CollectionHandle) Insert(doc any, cb MethodCallback) {
	h.call(h.opName("insert"), []any{doc}, cb)
}

// Update calls the collection's update method with selector and
// modifier.
func (h *CollectionHandle) Update(selector, modifier any, cb MethodCallback) {
	h.call(h.opName("update"), []any{selector, modifier}, cb)
}

// Upsert calls the collection's upsert method with selector and
// modifier.
func (h *CollectionHandle) Upsert(selector, modifier any, cb MethodCallback) {
	h.call(h.opName("upsert"), []any{selector, modifier}, cb)
}

// Remove calls the collection's remove method with selector as its sole
// argument.
func (h *CollectionHandle) Remove(selector any, cb MethodCallback) {
	h.call(h.opName("remove"), []any{selector}, cb)
}

func (h *CollectionHandle) call(method string, params []any, cb MethodCallback) {
	if cb == nil {
		cb = func(MethodResult) {}
	}
	if _, err := h.methods.Send(h.ids, h.queue, method, params, cb); err != nil {
		cb(MethodResult{IsError: true, Value: encodeLocalError(err)})
	}
}

func encodeLocalError(err error) json.RawMessage {
	b, marshalErr := json.Marshal(map[string]string{"reason": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"reason":"encode failure"}`)
	}
	return b
}

// collectionRegistry maps collection name to its CollectionHandle.
// Handles are created on first reference and never removed during a
// Connection's lifetime.
type collectionRegistry struct {
	mu      sync.Mutex
	handles map[string]*CollectionHandle
}

func newCollectionRegistry() *collectionRegistry {
	return &collectionRegistry{handles: make(map[string]*CollectionHandle)}
}

// GetOrCreate returns the existing handle for name, or installs and
// returns a new one.
func (r *collectionRegistry) GetOrCreate(name string, methods *pendingMethods, subs *subscriptions, queue *outboundQueue, ids *RandomIDSource) *CollectionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		return h
	}
	h := newCollectionHandle(name, methods, subs, queue, ids)
	r.handles[name] = h
	return h
}

// Lookup returns the handle for name, if one has been created.
func (r *collectionRegistry) Lookup(name string) (*CollectionHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}
