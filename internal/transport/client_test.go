package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketfeed/internal/auth"
	"marketfeed/internal/event"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/registry"
	"marketfeed/pkg/exception"
)

type fakeConn struct {
	frames    chan []byte
	mu        sync.Mutex
	requests  []controlRequest
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	raw, ok := <-c.frames
	if !ok {
		return nil, io.EOF
	}
	return raw, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	req, ok := v.(controlRequest)
	if !ok {
		return fmt.Errorf("unexpected write: %T", v)
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.frames) })
	return nil
}

func (c *fakeConn) Requests() []controlRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]controlRequest(nil), c.requests...)
}

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	alwaysErr bool
	dials     atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, cred auth.Credential) (Conn, error) {
	d.dials.Add(1)
	if d.alwaysErr {
		return nil, fmt.Errorf("dial refused")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, fmt.Errorf("no connection available")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type fakeTokens struct {
	refreshes atomic.Int32
}

func (f *fakeTokens) Token(ctx context.Context) (auth.Credential, error) {
	return auth.Credential{
		Identity:   "svc",
		Token:      "tok",
		IssuedAt:   time.Now(),
		ValidUntil: time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *fakeTokens) Refresh(ctx context.Context) (auth.Credential, error) {
	f.refreshes.Add(1)
	return f.Token(ctx)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testBackoff() Backoff {
	return Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2.0}
}

func TestReconnectReplaysExactRegistrySet(t *testing.T) {
	reg := registry.New()
	reg.Add("VIC", enum.DataKindTick)
	reg.Add("FPT", enum.DataKindTick)

	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}

	client, err := NewClient(Config{
		Dialer:     dialer,
		Tokens:     &fakeTokens{},
		Registry:   reg,
		MaxRetries: 5,
		Backoff:    testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitFor(t, "initial subscribe", func() bool { return len(conn1.Requests()) > 0 })
	wantTopics := []string{"tick:FPT", "tick:VIC"}
	assertSubscribe(t, conn1.Requests()[0], wantTopics)
	waitFor(t, "connected state", client.Connected)

	// Drop the connection; the next session must replay exactly the same set.
	_ = conn1.Close()
	waitFor(t, "resubscribe", func() bool { return len(conn2.Requests()) > 0 })
	assertSubscribe(t, conn2.Requests()[0], wantTopics)
	if extra := conn2.Requests(); len(extra) != 1 {
		t.Fatalf("unexpected extra control frames: %+v", extra)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	if got := client.State(); got != StateDisconnected {
		t.Fatalf("final state: %s", got)
	}
}

func assertSubscribe(t *testing.T, req controlRequest, wantTopics []string) {
	t.Helper()
	if req.Op != opSubscribe {
		t.Fatalf("op: got %s", req.Op)
	}
	if len(req.Topics) != len(wantTopics) {
		t.Fatalf("topics: got %v, want %v", req.Topics, wantTopics)
	}
	for i, topic := range wantTopics {
		if req.Topics[i] != topic {
			t.Fatalf("topics: got %v, want %v", req.Topics, wantTopics)
		}
	}
}

func TestRetryCapLeadsToFailedState(t *testing.T) {
	bus := event.NewBus()
	consumer := bus.Attach(16, event.OverflowDropOldest)

	client, err := NewClient(Config{
		Dialer:     &fakeDialer{alwaysErr: true},
		Tokens:     &fakeTokens{},
		Registry:   registry.New(),
		Bus:        bus,
		MaxRetries: 2,
		Backoff:    testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.Run(context.Background()); !errors.Is(err, exception.ErrRetriesExhausted) {
		t.Fatalf("run returned %v", err)
	}
	if got := client.State(); got != StateFailed {
		t.Fatalf("state: %s", got)
	}

	evt, ok := consumer.Next()
	if !ok || evt.Type != event.TypeError {
		t.Fatalf("expected error event, got %+v", evt)
	}
}

func TestBadFrameIsDroppedNotFatal(t *testing.T) {
	conn := newFakeConn()
	conn.frames <- []byte(`garbage`)
	conn.frames <- []byte(`{"topic":"tick:VNM","data":{"price":68.4,"volume":100}}`)

	applied := make(chan model.Message, 4)
	client, err := NewClient(Config{
		Dialer:     &fakeDialer{conns: []*fakeConn{conn}},
		Tokens:     &fakeTokens{},
		Registry:   registry.New(),
		Apply:      func(msg model.Message) { applied <- msg },
		MaxRetries: 5,
		Backoff:    testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case msg := <-applied:
		if msg.Kind != enum.DataKindTick || msg.Tick == nil || msg.Tick.Price != 68.4 {
			t.Fatalf("applied message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick never applied")
	}

	select {
	case msg := <-applied:
		t.Fatalf("garbage frame should not reach the engine: %+v", msg)
	default:
	}

	cancel()
	<-done
}

// gatedConn stalls its first write so the window while the replay frame is
// in flight can be exercised.
type gatedConn struct {
	*fakeConn
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *gatedConn) WriteJSON(v any) error {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.fakeConn.WriteJSON(v)
}

type singleConnDialer struct {
	conn Conn
}

func (d singleConnDialer) Dial(ctx context.Context, cred auth.Credential) (Conn, error) {
	return d.conn, nil
}

func TestSubscribeDuringReplayReachesLiveConnection(t *testing.T) {
	reg := registry.New()
	reg.Add("VIC", enum.DataKindTick)

	conn := &gatedConn{
		fakeConn: newFakeConn(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	client, err := NewClient(Config{
		Dialer:     singleConnDialer{conn: conn},
		Tokens:     &fakeTokens{},
		Registry:   reg,
		MaxRetries: 5,
		Backoff:    testBackoff(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// Replay frame is now in flight but not yet written.
	<-conn.entered

	if !client.Connected() {
		t.Fatal("connection must be live before the replay completes")
	}

	added := reg.Add("FPT", enum.DataKindTick)
	subErr := make(chan error, 1)
	go func() { subErr <- client.SendSubscribe(added) }()

	close(conn.release)
	if err := <-subErr; err != nil {
		t.Fatalf("subscribe during replay: %v", err)
	}

	waitFor(t, "both control frames", func() bool { return len(conn.Requests()) == 2 })
	requests := conn.Requests()
	assertSubscribe(t, requests[0], []string{"tick:VIC"})
	assertSubscribe(t, requests[1], []string{"tick:FPT"})

	cancel()
	<-done
}

func TestSendSubscribeWhileDisconnected(t *testing.T) {
	client, err := NewClient(Config{
		Dialer:   &fakeDialer{},
		Tokens:   &fakeTokens{},
		Registry: registry.New(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intents := []registry.Intent{{Symbol: "VNM", Kind: enum.DataKindTick}}
	if err := client.SendSubscribe(intents); !errors.Is(err, exception.ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestCandleIntentExpandsTimeframes(t *testing.T) {
	client, err := NewClient(Config{
		Dialer:           &fakeDialer{},
		Tokens:           &fakeTokens{},
		Registry:         registry.New(),
		CandleTimeframes: []string{"1m", "1d"},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	topics := client.buildTopics([]registry.Intent{
		{Symbol: "VIC", Kind: enum.DataKindCandle},
		{Symbol: "VIC", Kind: enum.DataKindTick},
	})
	want := []string{"candle:VIC:1m", "candle:VIC:1d", "tick:VIC"}
	if len(topics) != len(want) {
		t.Fatalf("topics: got %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics: got %v, want %v", topics, want)
		}
	}
}
