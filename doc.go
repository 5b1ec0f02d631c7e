// Package ddp implements the client side of the Distributed Data Protocol
// (DDP): a bidirectional, JSON-framed message protocol layered over
// WebSocket that supports remote method invocation and live-updating
// document subscriptions.
//
// The package is transport-agnostic — it depends only on the [Transport]
// interface, never on a concrete WebSocket library. The sibling
// [github.com/nugget/go-ddp/wstransport] package provides a default
// implementation backed by gorilla/websocket.
package ddp

import "log/slog"

// LevelTrace is a custom slog level below Debug used for per-frame wire
// forensics: every outbound and inbound frame is logged at this level so
// operators can enable forensic tracing without drowning in it at Debug.
const LevelTrace = slog.Level(-8)
