package repository

import (
	"context"
	"time"

	"QuantPull/internal/domain/models"
)

// MarketData is the broker/market-data provider collaborator. Implementations
// translate provider payloads into domain models at this boundary; nothing
// downstream sees raw API shapes.
type MarketData interface {
	// LatestBars returns the most recent bar per requested symbol.
	LatestBars(ctx context.Context, symbols []string) (map[string]models.Bar, error)
	// LatestOrderBooks returns the most recent order-book snapshot per symbol.
	LatestOrderBooks(ctx context.Context, symbols []string) (map[string]models.OrderBookSnapshot, error)
	// HistoricalBars returns bars in [start, end) ascending, paginating
	// internally until the provider reports no further pages.
	HistoricalBars(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]models.Bar, error)
	// Assets returns the tradable-asset catalog.
	Assets(ctx context.Context) ([]models.Asset, error)
}

// TradeStream is a push-based trade feed.
type TradeStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Trade, <-chan error)
	Close() error
	IsConnected() bool
}

// DecisionPublisher delivers signals and admissible risk decisions to the
// external execution collaborator. Delivery retries are the collaborator's
// concern, not ours.
type DecisionPublisher interface {
	PublishSignal(ctx context.Context, s models.Signal) error
	PublishDecision(ctx context.Context, d models.RiskDecision) error
	Close() error
}

// BarArchive stores historical bars for backfill and later analysis.
type BarArchive interface {
	StoreBars(ctx context.Context, bars []models.Bar) error
	RecentBars(ctx context.Context, symbol string, limit int) ([]models.Bar, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotMirror publishes latest-value snapshots for external dashboards.
// Best effort: failures are counted, never propagated into ingestion.
type SnapshotMirror interface {
	MirrorBars(ctx context.Context, bars map[string]models.Bar) error
	MirrorOrderBooks(ctx context.Context, books map[string]models.OrderBookSnapshot) error
	MirrorSignal(ctx context.Context, s models.Signal) error
	Close() error
}

type Metrics interface {
	RecordPoll(kind string)
	RecordError(kind string)
	RecordStaleWrite(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordSignal(symbol, action string)
	RecordLatency(op string, seconds float64)
}
