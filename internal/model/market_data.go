package model

import (
	"time"

	"marketfeed/internal/model/enum"
)

// Tick is a single trade execution reported by the upstream feed.
// Session fields (High/Low/Open/PreviousClose, running totals) are optional;
// when present they are authoritative over locally derived values.
type Tick struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Side          string    `json:"side,omitempty"`
	High          float64   `json:"high,omitempty"`
	Low           float64   `json:"low,omitempty"`
	Open          float64   `json:"open,omitempty"`
	PreviousClose float64   `json:"previousClose,omitempty"`
	TotalVolume   float64   `json:"totalVolume,omitempty"`
	TotalValue    float64   `json:"totalValue,omitempty"`
	TradingStatus string    `json:"tradingStatus,omitempty"`
	Time          time.Time `json:"time"`
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook holds the top price levels of both sides, best first.
type OrderBook struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
	Time   time.Time    `json:"time"`
}

// Best returns the top level of the requested side, or a zero level when
// that side is empty.
func (b OrderBook) Best(bids bool) PriceLevel {
	side := b.Asks
	if bids {
		side = b.Bids
	}
	if len(side) == 0 {
		return PriceLevel{}
	}
	return side[0]
}

// Candle is an OHLCV aggregate for one symbol over one timeframe bucket.
// Newer arrivals for the same (symbol, timeframe) replace older ones.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// VenueEvent is a venue-level notification, passed through without touching
// per-symbol state.
type VenueEvent struct {
	Venue   string    `json:"venue"`
	Kind    string    `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Snapshot is the derived summary view of a symbol. It is recomputed by the
// aggregation engine and never written directly.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"lastPrice"`
	LastVolume    float64   `json:"lastVolume"`
	LastTime      time.Time `json:"lastTime"`
	TotalVolume   float64   `json:"totalVolume"`
	TotalValue    float64   `json:"totalValue"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previousClose"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	BestBid       float64   `json:"bestBid"`
	BestBidVolume float64   `json:"bestBidVolume"`
	BestAsk       float64   `json:"bestAsk"`
	BestAskVolume float64   `json:"bestAskVolume"`
	AveragePrice  float64   `json:"averagePrice"`
	TradingStatus string    `json:"tradingStatus"`
}

// Message is the tagged variant handed from the transport decoder to the
// aggregation engine. Exactly one payload pointer matches Kind.
type Message struct {
	Kind   enum.DataKind
	Tick   *Tick
	Book   *OrderBook
	Candle *Candle
	Event  *VenueEvent
}
