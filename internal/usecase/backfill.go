package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/service/marketcache"
	"QuantPull/pkg/logger"
)

// BackfillConfig selects what to fetch before live polling starts.
type BackfillConfig struct {
	Symbols   []string
	Timeframe domrepo.Timeframe
	Lookback  time.Duration
	SeedSize  int // bars pushed into the in-memory ring per symbol
}

// Backfiller loads historical bars from the provider into the archive and
// seeds the cache's bar rings, so indicators have context from the first
// live tick instead of waiting a full long window.
type Backfiller struct {
	cfg      BackfillConfig
	provider domrepo.MarketData
	archive  domrepo.BarArchive
	cache    *marketcache.Cache
	log      *logger.Logger
	metrics  domrepo.Metrics
}

func NewBackfiller(
	cfg BackfillConfig,
	provider domrepo.MarketData,
	archive domrepo.BarArchive,
	cache *marketcache.Cache,
	log *logger.Logger,
	metrics domrepo.Metrics,
) *Backfiller {
	if cfg.Timeframe == "" {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 2 * time.Hour
	}
	if cfg.SeedSize <= 0 {
		cfg.SeedSize = 100
	}
	return &Backfiller{
		cfg:      cfg,
		provider: provider,
		archive:  archive,
		cache:    cache,
		log:      log,
		metrics:  metrics,
	}
}

// Run backfills every configured symbol. A symbol that fails is logged and
// skipped; the error reports how many failed so the caller can decide
// whether a partial backfill is acceptable.
func (b *Backfiller) Run(ctx context.Context) error {
	end := time.Now()
	start := end.Add(-b.cfg.Lookback)

	failed := 0
	for _, sym := range b.cfg.Symbols {
		if err := b.backfillSymbol(ctx, sym, start, end); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			b.metrics.RecordError("backfill")
			b.log.Error("backfill failed",
				logger.String("symbol", sym), logger.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("backfill incomplete: %d of %d symbols failed", failed, len(b.cfg.Symbols))
	}
	return nil
}

func (b *Backfiller) backfillSymbol(ctx context.Context, symbol string, start, end time.Time) error {
	t0 := time.Now()
	bars, err := b.provider.HistoricalBars(ctx, symbol, b.cfg.Timeframe, start, end)
	if err != nil {
		return fmt.Errorf("fetch historical bars: %w", err)
	}
	if len(bars) == 0 {
		b.log.Warn("no historical bars", logger.String("symbol", symbol))
		return nil
	}

	if b.archive != nil {
		if err := b.archive.StoreBars(ctx, bars); err != nil {
			return fmt.Errorf("archive bars: %w", err)
		}
	}

	seed := bars
	if len(seed) > b.cfg.SeedSize {
		seed = seed[len(seed)-b.cfg.SeedSize:]
	}
	b.cache.SeedHistory(seed)

	b.metrics.RecordLatency("backfill_symbol", time.Since(t0).Seconds())
	b.log.Info("backfill complete",
		logger.String("symbol", symbol),
		logger.Int("bars", len(bars)),
		logger.Int("seeded", len(seed)))
	return nil
}
