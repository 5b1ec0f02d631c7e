package ddp

import "log/slog"

// dispatcher routes decoded inbound frames to the pending-method table,
// the subscription readiness table, or the relevant CollectionHandle.
// It never sends anything itself except a pong reply, which it places
// directly on the outbound queue.
type dispatcher struct {
	methods  *pendingMethods
	subs     *subscriptions
	registry *collectionRegistry
	queue    *outboundQueue
	logger   *slog.Logger
}

func newDispatcher(methods *pendingMethods, subs *subscriptions, registry *collectionRegistry, queue *outboundQueue, logger *slog.Logger) *dispatcher {
	return &dispatcher{methods: methods, subs: subs, registry: registry, queue: queue, logger: logger}
}

// Dispatch decodes raw and routes it. Malformed frames, and frames
// missing fields their type requires, are dropped with a debug log
// rather than surfaced as an error: a single bad frame must not bring
// down the connection.
func (d *dispatcher) Dispatch(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		d.logger.Debug("ddp: dropping unparseable frame", "error", err)
		return
	}

	switch env.Msg {
	case "ping":
		d.queue.Push(EncodePong(env.ID))

	case "pong":
		// Server-initiated heartbeat reply to our own ping, if we ever
		// send one. No action required.

	case "result":
		id, ok := env.IDString()
		if !ok {
			d.logger.Debug("ddp: result frame missing id")
			return
		}
		switch {
		case env.HasError():
			d.methods.Deliver(id, MethodResult{Value: env.Error, IsError: true})
		case env.HasResult():
			d.methods.Deliver(id, MethodResult{Value: env.Result, IsError: false})
		default:
			d.logger.Debug("ddp: result frame has neither result nor error", "id", id)
		}

	case "ready":
		d.subs.NotifyReady(env.Subs)

	case "nosub":
		id, ok := env.IDString()
		if !ok {
			d.logger.Debug("ddp: nosub frame missing id")
			return
		}
		d.subs.NotifyError(id, env.Error)

	case "added":
		if env.Collection == "" {
			d.logger.Debug("ddp: added frame missing collection")
			return
		}
		h, ok := d.registry.Lookup(env.Collection)
		if !ok {
			return
		}
		docID, idOK := env.IDString()
		if !idOK {
			d.logger.Debug("ddp: added frame missing id", "collection", env.Collection)
			return
		}
		h.notifyAdd(docID, env.Fields)

	case "changed":
		if env.Collection == "" {
			d.logger.Debug("ddp: changed frame missing collection")
			return
		}
		h, ok := d.registry.Lookup(env.Collection)
		if !ok {
			return
		}
		docID, idOK := env.IDString()
		if !idOK {
			d.logger.Debug("ddp: changed frame missing id", "collection", env.Collection)
			return
		}
		h.notifyChange(docID, env.Fields, env.Cleared)

	case "removed":
		if env.Collection == "" {
			d.logger.Debug("ddp: removed frame missing collection")
			return
		}
		h, ok := d.registry.Lookup(env.Collection)
		if !ok {
			return
		}
		docID, idOK := env.IDString()
		if !idOK {
			d.logger.Debug("ddp: removed frame missing id", "collection", env.Collection)
			return
		}
		h.notifyRemove(docID)

	case "":
		d.logger.Debug("ddp: frame missing msg", "raw", string(raw))

	default:
		d.logger.Debug("ddp: unhandled message type", "msg", env.Msg)
	}
}
