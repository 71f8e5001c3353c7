// Package redismirror keeps the latest snapshot per symbol in Redis so
// sidecar processes can read it without attaching to the event stream.
package redismirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"marketfeed/internal/event"
)

const DefaultTTL = 2 * time.Minute

// Mirror writes snapshot_changed events to "snapshot:<symbol>" with a TTL,
// so entries for vanished symbols clean themselves up.
type Mirror struct {
	client   *redis.Client
	consumer *event.Consumer
	ttl      time.Duration
}

func New(client *redis.Client, consumer *event.Consumer, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{
		client:   client,
		consumer: consumer,
		ttl:      ttl,
	}
}

// Run mirrors snapshots until the consumer queue is closed.
func (m *Mirror) Run(ctx context.Context) {
	for {
		evt, ok := m.consumer.Next()
		if !ok {
			return
		}
		if evt.Type != event.TypeSnapshotChanged || evt.Snapshot == nil {
			continue
		}
		payload, err := json.Marshal(evt.Snapshot)
		if err != nil {
			logs.Errorf("marshal snapshot: %+v", err)
			continue
		}
		key := "snapshot:" + evt.Symbol
		if err := m.client.Set(ctx, key, payload, m.ttl).Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("mirror snapshot %s: %+v", evt.Symbol, err)
		}
	}
}
