// Package transport owns the physical connection to the upstream broker:
// dialing, the reconnect/resubscribe protocol, topic bookkeeping, and frame
// decode. It performs no aggregation; decoded messages are handed
// synchronously to the engine's ingestion entry point.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"marketfeed/internal/auth"
	"marketfeed/internal/event"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/registry"
	"marketfeed/pkg/exception"
)

// DefaultMaxRetries bounds the reconnect loop; past the cap the client
// enters the terminal Failed state instead of retrying silently forever.
const DefaultMaxRetries = 10

// TokenSource supplies credentials for the handshake. Refresh forces a
// renewal after the broker rejects a token that still looked valid locally.
type TokenSource interface {
	Token(ctx context.Context) (auth.Credential, error)
	Refresh(ctx context.Context) (auth.Credential, error)
}

// Config wires the client's collaborators.
type Config struct {
	Dialer   Dialer
	Tokens   TokenSource
	Registry *registry.Registry
	// Apply is the aggregation engine's synchronous ingestion entry point.
	Apply func(model.Message)
	Bus   *event.Bus
	// CandleTimeframes expands a candle subscription into one topic per
	// timeframe. Defaults to 1m/1h/1d.
	CandleTimeframes []string
	MaxRetries       int
	Backoff          Backoff
}

// Client runs the connection state machine. One Run per client.
type Client struct {
	cfg   Config
	state atomic.Int32

	connMu sync.Mutex
	conn   Conn
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Dialer == nil || cfg.Tokens == nil || cfg.Registry == nil {
		return nil, exception.ErrMissingDependency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if len(cfg.CandleTimeframes) == 0 {
		cfg.CandleTimeframes = []string{"1m", "1h", "1d"}
	}
	return &Client{cfg: cfg}, nil
}

// State returns the current lifecycle position.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports whether the session is live.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Run drives the connect/reconnect loop until ctx is done or the retry cap
// is exceeded. It blocks; run it in its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	authRetried := false
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		c.setState(StateConnecting)

		cred, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			if errors.Is(err, exception.ErrInvalidCredentials) {
				return c.fail(err)
			}
			attempt++
			if attempt > c.cfg.MaxRetries {
				return c.fail(exception.ErrRetriesExhausted)
			}
			logs.Warnf("token acquire failed, attempt %d: %+v", attempt, err)
			c.setState(StateReconnecting)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		conn, err := c.cfg.Dialer.Dial(ctx, cred)
		if err != nil {
			if errors.Is(err, exception.ErrInvalidCredentials) {
				// A token the broker rejects gets one forced renewal; a
				// second rejection in a row is terminal.
				if authRetried {
					return c.fail(err)
				}
				authRetried = true
				if _, rerr := c.cfg.Tokens.Refresh(ctx); rerr != nil && errors.Is(rerr, exception.ErrInvalidCredentials) {
					return c.fail(rerr)
				}
				continue
			}
			attempt++
			if attempt > c.cfg.MaxRetries {
				return c.fail(exception.ErrRetriesExhausted)
			}
			logs.Warnf("dial failed, attempt %d: %+v", attempt, err)
			c.setState(StateReconnecting)
			c.sleepBackoff(ctx, attempt)
			continue
		}
		authRetried = false

		// Publish the conn before replaying the desired set, so a Subscribe
		// landing mid-replay reaches the live connection instead of waiting
		// for a future reconnect. Duplicate subscribes are harmless because
		// topics are idempotent.
		c.setConn(conn)
		c.setState(StateConnected)

		if err := c.resubscribe(conn); err != nil {
			c.setConn(nil)
			_ = conn.Close()
			attempt++
			if attempt > c.cfg.MaxRetries {
				return c.fail(exception.ErrRetriesExhausted)
			}
			logs.Warnf("resubscribe failed, attempt %d: %+v", attempt, err)
			c.setState(StateReconnecting)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		c.publish(event.Event{Type: event.TypeConnected, Time: time.Now()})
		logs.Info("transport connected")

		readErr := c.readLoop(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()

		reason := "connection closed"
		if readErr != nil {
			reason = readErr.Error()
		}
		c.publish(event.Event{Type: event.TypeDisconnected, Reason: reason, Time: time.Now()})
		logs.Warnf("transport disconnected: %s", reason)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		c.setState(StateReconnecting)
		attempt++
		if attempt > c.cfg.MaxRetries {
			return c.fail(exception.ErrRetriesExhausted)
		}
		c.sleepBackoff(ctx, attempt)
	}
}

// SendSubscribe issues a live subscribe for the pairs. Callers update the
// registry first; when not connected this is a no-op on the wire and the
// pairs are replayed on the next connect.
func (c *Client) SendSubscribe(intents []registry.Intent) error {
	return c.sendControl(opSubscribe, intents)
}

// SendUnsubscribe issues a live unsubscribe for the pairs.
func (c *Client) SendUnsubscribe(intents []registry.Intent) error {
	return c.sendControl(opUnsubscribe, intents)
}

func (c *Client) sendControl(op string, intents []registry.Intent) error {
	if len(intents) == 0 {
		return nil
	}
	conn := c.currentConn()
	if conn == nil {
		return exception.ErrNotConnected
	}
	req := controlRequest{Op: op, Topics: c.buildTopics(intents)}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}
	return nil
}

// buildTopics expands intents into wire topics; candle intents produce one
// topic per configured timeframe.
func (c *Client) buildTopics(intents []registry.Intent) []string {
	topics := make([]string, 0, len(intents))
	for _, intent := range intents {
		if intent.Kind == enum.DataKindCandle {
			for _, timeframe := range c.cfg.CandleTimeframes {
				topics = append(topics, BuildTopic(intent.Kind, intent.Symbol, timeframe))
			}
			continue
		}
		topics = append(topics, BuildTopic(intent.Kind, intent.Symbol, ""))
	}
	return topics
}

// resubscribe sends one batched subscribe covering the registry's full
// desired set.
func (c *Client) resubscribe(conn Conn) error {
	intents := c.cfg.Registry.Snapshot()
	if len(intents) == 0 {
		return nil
	}
	req := controlRequest{Op: opSubscribe, Topics: c.buildTopics(intents)}
	return conn.WriteJSON(req)
}

// readLoop decodes and applies inbound frames until the connection drops.
// A single bad frame is logged and skipped, never fatal.
func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := DecodeFrame(raw)
		if err != nil {
			logs.Warnf("drop frame: %+v", err)
			continue
		}
		if c.cfg.Apply != nil {
			c.cfg.Apply(msg)
		}
	}
}

func (c *Client) fail(err error) error {
	c.setState(StateFailed)
	c.publish(event.Event{Type: event.TypeError, Reason: err.Error(), Time: time.Now()})
	logs.Errorf("transport failed: %+v", err)
	return err
}

func (c *Client) publish(evt event.Event) {
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(evt)
	}
}

func (c *Client) setState(state State) {
	c.state.Store(int32(state))
}

func (c *Client) setConn(conn Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) currentConn() Conn {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	return conn
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	wait := c.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
