package ddp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// Transport is the minimal bidirectional text-message channel a
// Connection needs. It knows nothing about DDP framing; it moves opaque
// text frames in and out. Implementations must make Close safe to call
// concurrently with a blocked SendText/RecvText, unblocking it with an
// error.
type Transport interface {
	SendText(ctx context.Context, frame string) error
	RecvText(ctx context.Context) (string, error)
	Close() error
}

// Dialer opens a Transport to rawURL. Implementations live outside this
// package (see wstransport) so that ddp itself never imports a concrete
// WebSocket library.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Transport, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, rawURL string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Transport, error) { return f(ctx, rawURL) }

// CrashHandler is invoked at most once, when the connection's reader or
// writer goroutine exits unexpectedly (transport failure, remote close).
// It never fires for a clean Close-initiated shutdown caused by user code.
type CrashHandler func(err error)

// SupportedVersions is the client's default, ordered list of DDP
// versions it offers during negotiation, most preferred first.
var SupportedVersions = []string{"1", "pre2", "pre1"}

// Options configures a Connection. Use the With* functions with Connect.
type Options struct {
	logger    *slog.Logger
	onCrash   CrashHandler
	supported []string
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the *slog.Logger a Connection uses for structured and
// trace logging. A nil logger (the default) falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.logger = logger }
}

// WithCrashHandler registers a callback fired at most once if the
// connection's internal goroutines exit due to a transport failure.
func WithCrashHandler(h CrashHandler) Option {
	return func(o *Options) { o.onCrash = h }
}

// WithSupportedVersions overrides SupportedVersions for one Connect call.
func WithSupportedVersions(versions []string) Option {
	return func(o *Options) { o.supported = versions }
}

// Connection is a live, negotiated DDP session. It owns a reader
// goroutine and a writer goroutine for the lifetime of the underlying
// Transport.
type Connection struct {
	transport Transport
	logger    *slog.Logger
	connID    string
	session   string
	version   string

	ids      *RandomIDSource
	queue    *outboundQueue
	methods  *pendingMethods
	subs     *subscriptions
	registry *collectionRegistry
	disp     *dispatcher

	onCrash  CrashHandler
	crashOne sync.Once

	wg sync.WaitGroup
}

// Connect dials rawURL with dialer, negotiates a DDP session, and starts
// the connection's reader and writer goroutines. The returned Connection
// is ready for Call/Mongo use immediately.
func Connect(ctx context.Context, rawURL string, dialer Dialer, opts ...Option) (*Connection, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindParse, err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return nil, newError(KindUrlIsNotWebsocket, fmt.Errorf("scheme %q", parsed.Scheme))
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	supported := o.supported
	if supported == nil {
		supported = SupportedVersions
	}

	connID := uuid.NewString()
	logger = logger.With("conn_id", connID)

	ids, err := NewRandomIDSource()
	if err != nil {
		return nil, newError(KindIoError, err)
	}

	transport, session, version, err := negotiate(ctx, rawURL, dialer, supported, logger)
	if err != nil {
		return nil, err
	}

	queue := newOutboundQueue()
	methods := newPendingMethods()
	subs := newSubscriptions(ids, queue, logger)
	registry := newCollectionRegistry()
	disp := newDispatcher(methods, subs, registry, queue, logger)

	c := &Connection{
		transport: transport,
		logger:    logger,
		connID:    connID,
		session:   session,
		version:   version,
		ids:       ids,
		queue:     queue,
		methods:   methods,
		subs:      subs,
		registry:  registry,
		disp:      disp,
		onCrash:   o.onCrash,
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// negotiate performs the connect/connected/failed handshake described by
// the protocol. On "failed", it looks up the server-proposed version in
// supported and jumps version_index to its position before redialing a
// fresh transport and resending connect with that version, per spec.md
// §4.8 and the original's Connection::negotiate (connection.rs:190-197).
// A "failed" naming a version absent from supported fails immediately
// with NoMatchingVersion rather than exhausting the offer list.
func negotiate(ctx context.Context, rawURL string, dialer Dialer, supported []string, logger *slog.Logger) (Transport, string, string, error) {
	versionIndex := 0

dialLoop:
	for {
		version := supported[versionIndex]

		transport, err := dialer.Dial(ctx, rawURL)
		if err != nil {
			return nil, "", "", newError(KindNetwork, err)
		}

		if err := transport.SendText(ctx, EncodeConnect(version, supported)); err != nil {
			transport.Close()
			return nil, "", "", newError(KindNetwork, err)
		}

		for {
			raw, err := transport.RecvText(ctx)
			if err != nil {
				transport.Close()
				return nil, "", "", newError(KindNetwork, err)
			}

			env, err := DecodeEnvelope([]byte(raw))
			if err != nil {
				transport.Close()
				return nil, "", "", newError(KindMalformedPacket, err)
			}

			logger.Log(ctx, LevelTrace, "ddp: negotiation frame", "raw", raw)

			switch env.Msg {
			case "":
				if env.HasServerID() {
					// Legacy server_id hint, predates the version
					// handshake proper. Ignore and keep reading.
					continue
				}
				transport.Close()
				return nil, "", "", newError(KindMalformedPacket, fmt.Errorf("empty msg during negotiation"))

			case "connected":
				return transport, env.Session, version, nil

			case "failed":
				transport.Close()
				idx := indexOfVersion(supported, env.Version)
				if idx == -1 {
					return nil, "", "", newError(KindNoMatchingVersion, fmt.Errorf("server proposed unsupported version %q", env.Version))
				}
				versionIndex = idx
				continue dialLoop

			default:
				transport.Close()
				return nil, "", "", newError(KindMalformedPacket, fmt.Errorf("unexpected msg %q during negotiation", env.Msg))
			}
		}
	}
}

// indexOfVersion returns the position of version within supported, or -1
// if it isn't present.
func indexOfVersion(supported []string, version string) int {
	for i, v := range supported {
		if v == version {
			return i
		}
	}
	return -1
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		raw, err := c.transport.RecvText(ctx)
		if err != nil {
			c.triggerCrash(newError(KindNetwork, err))
			return
		}
		c.logger.Log(ctx, LevelTrace, "ddp: recv", "frame", raw)
		c.disp.Dispatch([]byte(raw))
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		frame, ok := c.queue.Pop(ctx)
		if !ok {
			return
		}
		c.logger.Log(ctx, LevelTrace, "ddp: send", "frame", frame)
		if err := c.transport.SendText(ctx, frame); err != nil {
			c.triggerCrash(newError(KindNetwork, err))
			return
		}
	}
}

// triggerCrash runs at most once: it closes the outbound queue and force
// closes the transport, which unblocks whichever of readLoop/writeLoop
// is not the caller, then fires the registered crash handler.
func (c *Connection) triggerCrash(err error) {
	c.crashOne.Do(func() {
		c.queue.Close()
		c.transport.Close()
		if c.onCrash != nil {
			c.onCrash(err)
		}
	})
}

// Call invokes method remotely with params, which is marshaled to JSON
// (pass nil to send no arguments). cb is invoked exactly once with the
// server's result or error; it may be nil to fire-and-forget.
func (c *Connection) Call(method string, params any, cb MethodCallback) error {
	if cb == nil {
		cb = func(MethodResult) {}
	}
	_, err := c.methods.Send(c.ids, c.queue, method, params, cb)
	return err
}

// Mongo returns the CollectionHandle for name, creating it on first use.
func (c *Connection) Mongo(name string) *CollectionHandle {
	return c.registry.GetOrCreate(name, c.methods, c.subs, c.queue, c.ids)
}

// Session returns the session id assigned by the server during
// negotiation.
func (c *Connection) Session() string { return c.session }

// Version returns the DDP protocol version negotiated with the server.
func (c *Connection) Version() string { return c.version }

// ConnID returns this Connection's locally generated correlation id, used
// to tag all of its log lines.
func (c *Connection) ConnID() string { return c.connID }

// Close force closes the transport and outbound queue, stopping the
// reader and writer goroutines. It does not invoke the crash handler.
func (c *Connection) Close() error {
	var closeErr error
	c.crashOne.Do(func() {
		c.queue.Close()
		closeErr = c.transport.Close()
	})
	return closeErr
}

// Join blocks until the connection's goroutines have exited (due to
// Close or a transport failure) or ctx is done, whichever comes first.
func (c *Connection) Join(ctx context.Context) error {
	waitCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
