// Package wstransport implements ddp.Transport over gorilla/websocket. It
// is the default way to dial a DDP server; ddp itself never imports
// gorilla/websocket.
package wstransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nugget/go-ddp"
)

// Buffer and message-size settings tuned for the DDP "added" bursts a
// subscription snapshot can deliver (a large initial collection dump
// behaves like Home Assistant's entity registry: one very large frame).
const (
	readBufferSize  = 1024 * 1024       // 1MB
	writeBufferSize = 64 * 1024         // 64KB
	maxMessageBytes = 100 * 1024 * 1024 // 100MB
)

// Dialer is a ddp.Dialer backed by gorilla/websocket.
type Dialer struct {
	// WSDialer overrides the underlying websocket.Dialer. Nil uses a
	// dialer tuned with the package's default buffer sizes.
	WSDialer *websocket.Dialer
}

// Dial opens a WebSocket connection to rawURL and wraps it as a
// ddp.Transport.
func (d Dialer) Dial(ctx context.Context, rawURL string) (ddp.Transport, error) {
	wd := d.WSDialer
	if wd == nil {
		wd = &websocket.Dialer{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
		}
	}
	conn, _, err := wd.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	return &transport{conn: conn}, nil
}

// DefaultDialer is a ddp.Dialer ready to use with ddp.Connect.
var DefaultDialer ddp.DialerFunc = func(ctx context.Context, rawURL string) (ddp.Transport, error) {
	return Dialer{}.Dial(ctx, rawURL)
}

// transport adapts a *websocket.Conn to ddp.Transport. gorilla/websocket
// requires at most one concurrent reader and one concurrent writer; a
// DDP Connection already satisfies that (one reader goroutine, one
// writer goroutine), but sendMu additionally guards against a caller
// using SendText directly from more than one goroutine.
type transport struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (t *transport) SendText(ctx context.Context, frame string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// RecvText reads frames until a text frame arrives. Binary frames are
// discarded rather than surfaced as an error: DDP is text-only, and a
// stray non-text frame must not bring down the reader loop.
func (t *transport) RecvText(ctx context.Context) (string, error) {
	for {
		if deadline, ok := ctx.Deadline(); ok {
			if err := t.conn.SetReadDeadline(deadline); err != nil {
				return "", err
			}
		}
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

func (t *transport) Close() error {
	return t.conn.Close()
}
