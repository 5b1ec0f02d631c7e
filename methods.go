package ddp

import (
	"encoding/json"
	"sync"
)

// MethodResult is the outcome delivered to a method's completion
// callback: either the server's "result" value, or its "error" value
// with IsError set.
type MethodResult struct {
	Value   json.RawMessage
	IsError bool
}

// MethodCallback is invoked exactly once with the server's response to a
// method call. It runs on the reader goroutine's call stack; it must not
// block for long.
type MethodCallback func(MethodResult)

// pendingMethods correlates outstanding method calls (by id) with their
// completion callback.
type pendingMethods struct {
	mu      sync.Mutex
	entries map[string]MethodCallback
}

func newPendingMethods() *pendingMethods {
	return &pendingMethods{entries: make(map[string]MethodCallback)}
}

// Send generates a fresh id, registers cb for it, and enqueues the method
// frame. Registration happens before the frame reaches the queue so a
// fast response can never race ahead of the entry it needs to find.
func (p *pendingMethods) Send(ids *RandomIDSource, queue *outboundQueue, method string, params any, cb MethodCallback) (string, error) {
	id := ids.ID()
	frame, err := EncodeMethod(id, method, params)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.entries[id] = cb
	p.mu.Unlock()

	queue.Push(frame)
	return id, nil
}

// Deliver removes the entry for id, if any, and invokes its callback
// with result. A response with no matching entry (duplicate or late) is
// dropped silently.
func (p *pendingMethods) Deliver(id string, result MethodResult) {
	p.mu.Lock()
	cb, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		cb(result)
	}
}
