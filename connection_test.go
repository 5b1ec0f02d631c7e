package ddp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport double driven entirely by
// test code: inbound holds frames RecvText will hand out in order,
// outbound records every frame passed to SendText.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  chan string
	outbound []string
	closed   bool
	closeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan string, 16)}
}

func (f *fakeTransport) SendText(ctx context.Context, frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fakeTransport: closed")
	}
	f.outbound = append(f.outbound, frame)
	return nil
}

func (f *fakeTransport) RecvText(ctx context.Context) (string, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return "", errors.New("fakeTransport: closed")
		}
		return frame, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return f.closeErr
}

func (f *fakeTransport) push(frame string) { f.inbound <- frame }

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.outbound))
	copy(out, f.outbound)
	return out
}

func dialerFor(transports ...*fakeTransport) DialerFunc {
	i := 0
	return func(ctx context.Context, rawURL string) (Transport, error) {
		if i >= len(transports) {
			return nil, errors.New("dialerFor: exhausted")
		}
		t := transports[i]
		i++
		return t, nil
	}
}

func TestConnect_NegotiatesImmediateSuccess(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	if conn.Session() != "sess1" {
		t.Fatalf("Session() = %q, want sess1", conn.Session())
	}
	if conn.Version() != "1" {
		t.Fatalf("Version() = %q, want 1", conn.Version())
	}
}

func TestConnect_RedialsOnFailedThenSucceeds(t *testing.T) {
	// SupportedVersions is ["1", "pre2", "pre1"]. The server rejects the
	// first offer ("1") in favor of "pre2": per spec.md §4.8, version_index
	// jumps to pre2's position in the support list (index 1), not merely
	// to the next offer in order.
	first := newFakeTransport()
	first.push(`{"msg":"failed","version":"pre2"}`)
	second := newFakeTransport()
	second.push(`{"msg":"connected","session":"sess2"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(first, second))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	if conn.Version() != "pre2" {
		t.Fatalf("Version() = %q, want pre2", conn.Version())
	}

	env, err := DecodeEnvelope([]byte(second.sent()[0]))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error: %v", err)
	}
	if env.Version != "pre2" {
		t.Fatalf("second offer version = %q, want pre2", env.Version)
	}
}

func TestConnect_FailedJumpsToNonAdjacentVersion(t *testing.T) {
	// The server skips straight to the least-preferred version. The
	// client must jump version_index to "pre1"'s position (2), not
	// linearly advance to "pre2" first.
	first := newFakeTransport()
	first.push(`{"msg":"failed","version":"pre1"}`)
	second := newFakeTransport()
	second.push(`{"msg":"connected","session":"sess3"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(first, second))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	if conn.Version() != "pre1" {
		t.Fatalf("Version() = %q, want pre1", conn.Version())
	}

	env, err := DecodeEnvelope([]byte(second.sent()[0]))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error: %v", err)
	}
	if env.Version != "pre1" {
		t.Fatalf("second offer version = %q, want pre1", env.Version)
	}
}

func TestConnect_FailedRepeatsSameVersion(t *testing.T) {
	// "failed" naming the version the client just offered means
	// version_index stays put: the client retries the same version.
	first := newFakeTransport()
	first.push(`{"msg":"failed","version":"1"}`)
	second := newFakeTransport()
	second.push(`{"msg":"connected","session":"sess4"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(first, second))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	if conn.Version() != "1" {
		t.Fatalf("Version() = %q, want 1", conn.Version())
	}

	env, err := DecodeEnvelope([]byte(second.sent()[0]))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error: %v", err)
	}
	if env.Version != "1" {
		t.Fatalf("second offer version = %q, want 1", env.Version)
	}
}

func TestConnect_UnknownVersionFailsFast(t *testing.T) {
	// Spec §8 scenario 3: a "failed" naming a version absent from
	// supported fails immediately with NoMatchingVersion. It must not
	// redial and burn through the rest of the offer list first.
	only := newFakeTransport()
	only.push(`{"msg":"failed","version":"0.9"}`)

	_, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(only))
	if !errors.Is(err, ErrNoMatchingVersion) {
		t.Fatalf("err = %v, want ErrNoMatchingVersion", err)
	}
}

func TestConnect_RejectsNonWebsocketScheme(t *testing.T) {
	_, err := Connect(context.Background(), "http://example.test/websocket", dialerFor())
	if !errors.Is(err, ErrUrlIsNotWebsocket) {
		t.Fatalf("err = %v, want ErrUrlIsNotWebsocket", err)
	}
}

func TestConnect_MalformedURL(t *testing.T) {
	_, err := Connect(context.Background(), "ws://[::1", dialerFor())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestConnection_PingIsAnsweredWithPong(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	ft.push(`{"msg":"ping","id":"p1"}`)

	deadline := time.After(time.Second)
	for {
		for _, frame := range ft.sent() {
			if frame == `{"msg":"pong","id":"p1"}` {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for pong, sent=%v", ft.sent())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnection_CallDeliversResult(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	done := make(chan MethodResult, 1)
	if err := conn.Call("add", []any{1, 2}, func(r MethodResult) { done <- r }); err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	// Find the id the writer actually sent, then reply to it.
	var id string
	deadline := time.After(time.Second)
	for id == "" {
		for _, frame := range ft.sent() {
			env, derr := DecodeEnvelope([]byte(frame))
			if derr == nil && env.Msg == "method" {
				if got, ok := env.IDString(); ok {
					id = got
				}
			}
		}
		if id != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for method frame, sent=%v", ft.sent())
		case <-time.After(5 * time.Millisecond):
		}
	}

	ft.push(`{"msg":"result","id":"` + id + `","result":3}`)

	select {
	case res := <-done:
		if res.IsError || string(res.Value) != "3" {
			t.Fatalf("got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for method result")
	}
}

func TestConnection_CrashHandlerFiresOnceOnTransportFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	crashes := 0
	var mu sync.Mutex
	done := make(chan struct{})
	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft), WithCrashHandler(func(error) {
		mu.Lock()
		crashes++
		mu.Unlock()
		close(done)
	}))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	ft.Close() // simulate the remote end going away

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for crash handler")
	}

	mu.Lock()
	got := crashes
	mu.Unlock()
	if got != 1 {
		t.Fatalf("crash handler fired %d times, want 1", got)
	}

	conn.Close() // must not re-fire or block
}

func TestConnection_JoinReturnsAfterClose(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Join(ctx); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
}

func TestConnection_MongoReturnsSameHandle(t *testing.T) {
	ft := newFakeTransport()
	ft.push(`{"msg":"connected","session":"sess1"}`)

	conn, err := Connect(context.Background(), "ws://example.test/websocket", dialerFor(ft))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Close()

	if conn.Mongo("players") != conn.Mongo("players") {
		t.Fatal("Mongo() returned different handles for the same name")
	}
}
