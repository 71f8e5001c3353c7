// Package feed is the outward surface of the ingestion core: subscribe and
// unsubscribe by symbol and data kind, point queries for the latest state,
// the status probe, and event-stream attachment.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"marketfeed/internal/aggregate"
	"marketfeed/internal/auth"
	"marketfeed/internal/event"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/registry"
	"marketfeed/internal/transport"
	"marketfeed/pkg/exception"
)

// Status is the liveness probe result.
type Status struct {
	Connected             bool `json:"connected"`
	SubscribedSymbolCount int  `json:"subscribedSymbolCount"`
	CachedSymbolCount     int  `json:"cachedSymbolCount"`
}

// Config wires the usecase's collaborators.
type Config struct {
	Registry      *registry.Registry
	Client        *transport.Client
	Engine        *aggregate.Engine
	Bus           *event.Bus
	Credentials   *auth.Manager
	SweepInterval time.Duration
}

// Usecase ties the registry, transport, engine and bus together behind the
// external interface.
type Usecase struct {
	registry      *registry.Registry
	client        *transport.Client
	engine        *aggregate.Engine
	bus           *event.Bus
	creds         *auth.Manager
	sweepInterval time.Duration
}

func NewUsecase(cfg Config) (*Usecase, error) {
	if cfg.Registry == nil || cfg.Client == nil || cfg.Engine == nil || cfg.Bus == nil {
		return nil, exception.ErrMissingDependency
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = aggregate.DefaultSweepInterval
	}
	return &Usecase{
		registry:      cfg.Registry,
		client:        cfg.Client,
		engine:        cfg.Engine,
		bus:           cfg.Bus,
		creds:         cfg.Credentials,
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Run drives the transport loop and the eviction sweeper until ctx is done
// or the transport fails terminally. Shutdown stops the reconnect loop and
// connection first, then the credential and eviction timers, then the bus,
// so no timer fires against a torn-down transport.
func (u *Usecase) Run(ctx context.Context) error {
	transportCtx, stopTransport := context.WithCancel(context.Background())
	defer stopTransport()
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	go u.engine.RunSweeper(sweepCtx, u.sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- u.client.Run(transportCtx)
	}()

	// Teardown order: transport first, then the eviction and credential
	// timers, then the bus, so no timer fires against a torn-down transport.
	var err error
	select {
	case <-ctx.Done():
		stopTransport()
		<-errCh
		err = ctx.Err()
	case err = <-errCh:
	}

	stopSweep()
	if u.creds != nil {
		u.creds.Close()
	}
	u.bus.Close()
	logs.Info("feed stopped")
	return err
}

// Subscribe records intent for every (symbol, kind) pair and, when
// connected, issues the live subscribe immediately. Idempotent: known pairs
// are skipped. The registry is updated even when the live request fails, so
// the next reconnect retries it.
func (u *Usecase) Subscribe(symbols []string, kinds []enum.DataKind) error {
	if len(symbols) == 0 || len(kinds) == 0 {
		return exception.ErrInvalidSubscribeRequest
	}
	for _, kind := range kinds {
		if !kind.IsAvailable() {
			return exception.ErrUnknownDataKind
		}
	}

	var added []registry.Intent
	for _, symbol := range symbols {
		added = append(added, u.registry.Add(symbol, kinds...)...)
	}
	if len(added) == 0 {
		return nil
	}

	if err := u.client.SendSubscribe(added); err != nil {
		if errors.Is(err, exception.ErrNotConnected) {
			// Intent is recorded; the next connect replays it.
			return nil
		}
		return errors.Join(exception.ErrSubscribe, err)
	}
	return nil
}

// Unsubscribe removes intent; with no kinds the symbols are removed
// entirely, which also drops their cached state. Failures on the live
// connection are no-ops: the registry is already correct for the next
// connect.
func (u *Usecase) Unsubscribe(symbols []string, kinds ...enum.DataKind) error {
	if len(symbols) == 0 {
		return exception.ErrInvalidSubscribeRequest
	}

	var removed []registry.Intent
	for _, symbol := range symbols {
		removed = append(removed, u.registry.Remove(symbol, kinds...)...)
		if !u.registry.Contains(symbol) {
			u.engine.Drop(symbol)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	if err := u.client.SendUnsubscribe(removed); err != nil && !errors.Is(err, exception.ErrNotConnected) {
		logs.Warnf("live unsubscribe failed: %+v", err)
	}
	return nil
}

// GetSnapshot returns the latest snapshot; false means no tick received.
func (u *Usecase) GetSnapshot(symbol string) (model.Snapshot, bool) {
	return u.engine.Snapshot(symbol)
}

// GetOrderBook returns the latest order-book top for the symbol.
func (u *Usecase) GetOrderBook(symbol string) (model.OrderBook, bool) {
	return u.engine.OrderBook(symbol)
}

// GetCandles returns cached candles; a non-empty timeframe narrows to that
// single bucket.
func (u *Usecase) GetCandles(symbol, timeframe string) ([]model.Candle, bool) {
	if timeframe != "" {
		candle, ok := u.engine.Candle(symbol, timeframe)
		if !ok {
			return nil, false
		}
		return []model.Candle{candle}, true
	}
	return u.engine.Candles(symbol)
}

// Status reports connection and cache liveness.
func (u *Usecase) Status() Status {
	return Status{
		Connected:             u.client.Connected(),
		SubscribedSymbolCount: u.registry.SymbolCount(),
		CachedSymbolCount:     u.engine.CachedSymbolCount(),
	}
}

// Attach registers an event-stream consumer with its own bounded queue.
func (u *Usecase) Attach(capacity int, policy event.OverflowPolicy) *event.Consumer {
	return u.bus.Attach(capacity, policy)
}

// Detach unregisters the consumer and closes its queue.
func (u *Usecase) Detach(consumer *event.Consumer) {
	u.bus.Detach(consumer)
}
