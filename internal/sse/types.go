// Package sse streams server-sent events: a broker that fans catalog
// notifications out to every connected client, and writer helpers used
// for per-view chunk streams.
package sse

import "time"

// Event is one server-sent event. Data is encoded as JSON.
type Event struct {
	Type  string `json:"type"`
	Data  any    `json:"data"`
	ID    string `json:"id,omitempty"`
	Retry int    `json:"retry,omitempty"`
}

const (
	EventCatalogInvalidated = "catalog:invalidated"
	EventChunkReveal        = "chunk:reveal"
	EventChunkDone          = "chunk:done"
	EventChunkError         = "chunk:error"

	eventConnected = "connected"
)

const (
	DefaultEventBuffer       = 256
	DefaultClientBuffer      = 64
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxClients        = 1000
	defaultShutdownTimeout   = 5 * time.Second
)

// Filter decides whether a client receives an event.
type Filter func(Event) bool
