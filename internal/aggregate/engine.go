// Package aggregate folds the decoded message stream into per-symbol state
// and derives the query-ready snapshot. Nothing in here is fatal: a message
// either updates state or is skipped.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"marketfeed/internal/event"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/registry"
)

const (
	// DefaultSweepInterval is how often stale state is collected.
	DefaultSweepInterval = 10 * time.Minute
	// DefaultStaleness is the age past which unsubscribed state is dropped.
	DefaultStaleness = time.Hour
)

// symbolState is the per-symbol aggregate. Created lazily on the first
// inbound message; mutated only by the engine.
type symbolState struct {
	tick       *model.Tick
	book       *model.OrderBook
	candles    map[string]model.Candle
	snapshot   *model.Snapshot
	lastUpdate time.Time
}

// Engine consumes typed messages and maintains the snapshot per symbol. The
// transport read loop is the single writer; queries and the sweep take the
// lock briefly.
type Engine struct {
	mu     sync.RWMutex
	states map[string]*symbolState

	bus       *event.Bus
	registry  *registry.Registry
	staleness time.Duration
	now       func() time.Time
}

func NewEngine(bus *event.Bus, reg *registry.Registry, staleness time.Duration) *Engine {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Engine{
		states:    make(map[string]*symbolState),
		bus:       bus,
		registry:  reg,
		staleness: staleness,
		now:       time.Now,
	}
}

// Apply is the synchronous ingestion entry point. It must not block; event
// emission goes through bounded per-consumer queues.
func (e *Engine) Apply(msg model.Message) {
	switch msg.Kind {
	case enum.DataKindTick:
		if msg.Tick != nil {
			e.applyTick(msg.Tick)
		}
	case enum.DataKindOrderBook:
		if msg.Book != nil {
			e.applyBook(msg.Book)
		}
	case enum.DataKindCandle:
		if msg.Candle != nil {
			e.applyCandle(msg.Candle)
		}
	case enum.DataKindEvent:
		if msg.Event != nil {
			// Stateless pass-through.
			e.publish(event.Event{
				Type:   event.TypeVenueEvent,
				Symbol: msg.Event.Symbol,
				Venue:  msg.Event,
				Time:   e.now(),
			})
		}
	default:
		logs.Warnf("apply: unknown message kind %d", msg.Kind)
	}
}

func (e *Engine) applyTick(tick *model.Tick) {
	e.mu.Lock()
	state := e.fetchOrCreate(tick.Symbol)
	state.tick = tick
	state.lastUpdate = e.now()

	snap := state.snapshot
	if snap == nil {
		snap = &model.Snapshot{Symbol: tick.Symbol}
		state.snapshot = snap
		// Extrema live with the state: they reset only when the symbol
		// state itself is recreated, never across quiet periods.
	}

	snap.LastPrice = tick.Price
	snap.LastVolume = tick.Volume
	snap.LastTime = tick.Time

	// The upstream feed owns the session data; trust its fields over the
	// locally derived values whenever present.
	if tick.PreviousClose > 0 {
		snap.PreviousClose = tick.PreviousClose
	}
	if tick.Open > 0 {
		snap.Open = tick.Open
	} else if snap.Open == 0 {
		snap.Open = tick.Price
	}
	if tick.TradingStatus != "" {
		snap.TradingStatus = tick.TradingStatus
	}

	if tick.TotalVolume > 0 {
		snap.TotalVolume = tick.TotalVolume
	} else {
		snap.TotalVolume += tick.Volume
	}
	if tick.TotalValue > 0 {
		snap.TotalValue = tick.TotalValue
	} else {
		snap.TotalValue += tick.Price * tick.Volume
	}

	high := tick.High
	if high <= 0 {
		high = tick.Price
	}
	if high > snap.High {
		snap.High = high
	}
	low := tick.Low
	if low <= 0 {
		low = tick.Price
		if snap.PreviousClose > 0 && snap.PreviousClose < low {
			low = snap.PreviousClose
		}
	}
	if snap.Low == 0 || low < snap.Low {
		snap.Low = low
	}

	if snap.PreviousClose > 0 {
		snap.Change = snap.LastPrice - snap.PreviousClose
		snap.ChangePercent = snap.Change / snap.PreviousClose * 100
	}
	if snap.TotalVolume > 0 {
		snap.AveragePrice = snap.TotalValue / snap.TotalVolume
	}

	copied := *snap
	e.mu.Unlock()

	e.publish(event.Event{
		Type:     event.TypeSnapshotChanged,
		Symbol:   tick.Symbol,
		Snapshot: &copied,
		Time:     e.now(),
	})
}

func (e *Engine) applyBook(book *model.OrderBook) {
	e.mu.Lock()
	state := e.fetchOrCreate(book.Symbol)
	state.book = book
	state.lastUpdate = e.now()

	// Patch best quotes only when a snapshot already exists; an order book
	// alone never fabricates one.
	if snap := state.snapshot; snap != nil {
		bid := book.Best(true)
		ask := book.Best(false)
		snap.BestBid = bid.Price
		snap.BestBidVolume = bid.Volume
		snap.BestAsk = ask.Price
		snap.BestAskVolume = ask.Volume
	}
	copied := *book
	e.mu.Unlock()

	e.publish(event.Event{
		Type:   event.TypeOrderBookChanged,
		Symbol: book.Symbol,
		Book:   &copied,
		Time:   e.now(),
	})
}

func (e *Engine) applyCandle(candle *model.Candle) {
	e.mu.Lock()
	state := e.fetchOrCreate(candle.Symbol)
	state.candles[candle.Timeframe] = *candle
	state.lastUpdate = e.now()
	copied := *candle
	e.mu.Unlock()

	e.publish(event.Event{
		Type:   event.TypeCandleChanged,
		Symbol: candle.Symbol,
		Candle: &copied,
		Time:   e.now(),
	})
}

// fetchOrCreate requires e.mu held.
func (e *Engine) fetchOrCreate(symbol string) *symbolState {
	state := e.states[symbol]
	if state == nil {
		state = &symbolState{candles: make(map[string]model.Candle)}
		e.states[symbol] = state
	}
	return state
}

// Snapshot returns the derived snapshot; false means no tick has arrived for
// the symbol yet.
func (e *Engine) Snapshot(symbol string) (model.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[symbol]
	if state == nil || state.snapshot == nil {
		return model.Snapshot{}, false
	}
	return *state.snapshot, true
}

// OrderBook returns the last order-book top for the symbol.
func (e *Engine) OrderBook(symbol string) (model.OrderBook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[symbol]
	if state == nil || state.book == nil {
		return model.OrderBook{}, false
	}
	return *state.book, true
}

// Candle returns the latest candle for one (symbol, timeframe) pair.
func (e *Engine) Candle(symbol, timeframe string) (model.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[symbol]
	if state == nil {
		return model.Candle{}, false
	}
	candle, ok := state.candles[timeframe]
	return candle, ok
}

// Candles returns every cached candle for the symbol, ordered by timeframe.
func (e *Engine) Candles(symbol string) ([]model.Candle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.states[symbol]
	if state == nil || len(state.candles) == 0 {
		return nil, false
	}
	candles := make([]model.Candle, 0, len(state.candles))
	for _, candle := range state.candles {
		candles = append(candles, candle)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timeframe < candles[j].Timeframe
	})
	return candles, true
}

// CachedSymbolCount returns the number of symbols with live state.
func (e *Engine) CachedSymbolCount() int {
	e.mu.RLock()
	count := len(e.states)
	e.mu.RUnlock()
	return count
}

// Drop removes the whole symbol state, for explicit full unsubscribes.
func (e *Engine) Drop(symbol string) {
	e.mu.Lock()
	delete(e.states, symbol)
	e.mu.Unlock()
}

// RunSweeper evicts stale state on a fixed interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := e.Sweep(); evicted > 0 {
				logs.Infof("sweep evicted %d stale symbols", evicted)
			}
		}
	}
}

// Sweep deletes state that is both older than the staleness threshold and no
// longer subscribed. A quiet market on a subscribed symbol is expected, not
// stale, so subscribed symbols survive regardless of age.
func (e *Engine) Sweep() int {
	cutoff := e.now().Add(-e.staleness)
	evicted := 0
	e.mu.Lock()
	for symbol, state := range e.states {
		if state.lastUpdate.After(cutoff) {
			continue
		}
		if e.registry != nil && e.registry.Contains(symbol) {
			continue
		}
		delete(e.states, symbol)
		evicted++
	}
	e.mu.Unlock()
	return evicted
}

func (e *Engine) publish(evt event.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}
