// Package event carries the outward-facing update stream. Consumers attach
// and detach independently of subscription state; each consumer owns a
// bounded queue so a slow reader never stalls ingestion.
package event

import (
	"time"

	"marketfeed/internal/model"
)

// Type tags an event on the stream.
type Type string

const (
	TypeSnapshotChanged  Type = "snapshot_changed"
	TypeOrderBookChanged Type = "order_book_changed"
	TypeCandleChanged    Type = "candle_changed"
	TypeVenueEvent       Type = "venue_event"
	TypeConnected        Type = "connected"
	TypeDisconnected     Type = "disconnected"
	TypeError            Type = "error"
)

// Event is one typed entry on the stream. At most one payload pointer is set,
// matching Type; Reason carries disconnect/error detail.
type Event struct {
	Type     Type              `json:"type"`
	Symbol   string            `json:"symbol,omitempty"`
	Snapshot *model.Snapshot   `json:"snapshot,omitempty"`
	Book     *model.OrderBook  `json:"orderBook,omitempty"`
	Candle   *model.Candle     `json:"candle,omitempty"`
	Venue    *model.VenueEvent `json:"venueEvent,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Time     time.Time         `json:"time"`
}
