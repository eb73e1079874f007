package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
)

// RedisSnapshotMirror publishes latest-value snapshots into Redis hashes for
// external dashboards. Keys:
//
//	qp:bars        hash symbol -> bar JSON
//	qp:orderbooks  hash symbol -> snapshot JSON
//	qp:signals:<symbol>  last actionable signal JSON with TTL
type RedisSnapshotMirror struct {
	rdb       *redis.Client
	signalTTL time.Duration
}

type MirrorOption func(*RedisSnapshotMirror)

// WithSignalTTL sets how long mirrored signals stay visible.
func WithSignalTTL(ttl time.Duration) MirrorOption {
	return func(m *RedisSnapshotMirror) {
		if ttl > 0 {
			m.signalTTL = ttl
		}
	}
}

func NewRedisSnapshotMirror(rdb *redis.Client, opts ...MirrorOption) *RedisSnapshotMirror {
	m := &RedisSnapshotMirror{rdb: rdb, signalTTL: 15 * time.Minute}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RedisSnapshotMirror) MirrorBars(ctx context.Context, bars map[string]models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(bars))
	for sym, b := range bars {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal bar %s: %w", sym, err)
		}
		fields[sym] = raw
	}
	if err := m.rdb.HSet(ctx, "qp:bars", fields).Err(); err != nil {
		return fmt.Errorf("mirror bars: %w", err)
	}
	return nil
}

func (m *RedisSnapshotMirror) MirrorOrderBooks(ctx context.Context, books map[string]models.OrderBookSnapshot) error {
	if len(books) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(books))
	for sym, ob := range books {
		raw, err := json.Marshal(ob)
		if err != nil {
			return fmt.Errorf("marshal orderbook %s: %w", sym, err)
		}
		fields[sym] = raw
	}
	if err := m.rdb.HSet(ctx, "qp:orderbooks", fields).Err(); err != nil {
		return fmt.Errorf("mirror orderbooks: %w", err)
	}
	return nil
}

func (m *RedisSnapshotMirror) MirrorSignal(ctx context.Context, s models.Signal) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	key := "qp:signals:" + s.Symbol
	if err := m.rdb.Set(ctx, key, raw, m.signalTTL).Err(); err != nil {
		return fmt.Errorf("mirror signal: %w", err)
	}
	return nil
}

func (m *RedisSnapshotMirror) Close() error {
	return m.rdb.Close()
}

var _ domrepo.SnapshotMirror = (*RedisSnapshotMirror)(nil)
