package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/service/marketcache"
	"QuantPull/pkg/logger"
)

type histProvider struct {
	fakeProvider
	hist map[string][]models.Bar
}

func (h *histProvider) HistoricalBars(_ context.Context, symbol string, _ domrepo.Timeframe, _, _ time.Time) ([]models.Bar, error) {
	bars, ok := h.hist[symbol]
	if !ok {
		return nil, errors.New("symbol unavailable")
	}
	return bars, nil
}

type memArchive struct {
	stored []models.Bar
}

func (a *memArchive) StoreBars(_ context.Context, bars []models.Bar) error {
	a.stored = append(a.stored, bars...)
	return nil
}
func (a *memArchive) RecentBars(context.Context, string, int) ([]models.Bar, error) { return nil, nil }
func (a *memArchive) Health(context.Context) error                                  { return nil }
func (a *memArchive) Close() error                                                  { return nil }

func histBars(symbol string, n int) []models.Bar {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		out[i] = models.Bar{
			Symbol: symbol, Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close: 100 + float64(i), Volume: 1,
		}
	}
	return out
}

func TestBackfillArchivesAndSeedsCache(t *testing.T) {
	p := &histProvider{hist: map[string][]models.Bar{"BTC/USD": histBars("BTC/USD", 150)}}
	archive := &memArchive{}
	cache := marketcache.New(100)

	b := NewBackfiller(BackfillConfig{
		Symbols: []string{"BTC/USD"}, Lookback: time.Hour, SeedSize: 100,
	}, p, archive, cache, logger.Nop(), newNopMetrics())

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(archive.stored) != 150 {
		t.Fatalf("archive got %d bars, want 150", len(archive.stored))
	}

	hist := cache.BarHistory("BTC/USD", 0)
	if len(hist) != 100 {
		t.Fatalf("cache ring holds %d bars, want 100", len(hist))
	}
	// ring holds the newest 100 of the 150
	if hist[0].Close != 150 || hist[99].Close != 249 {
		t.Fatalf("wrong seed slice: first=%g last=%g", hist[0].Close, hist[99].Close)
	}
}

func TestBackfillPartialFailureReported(t *testing.T) {
	p := &histProvider{hist: map[string][]models.Bar{"BTC/USD": histBars("BTC/USD", 10)}}
	cache := marketcache.New(100)

	b := NewBackfiller(BackfillConfig{
		Symbols: []string{"BTC/USD", "ETH/USD"}, Lookback: time.Hour,
	}, p, &memArchive{}, cache, logger.Nop(), newNopMetrics())

	if err := b.Run(context.Background()); err == nil {
		t.Fatal("expected partial failure error")
	}
	// the healthy symbol still got seeded
	if len(cache.BarHistory("BTC/USD", 0)) != 10 {
		t.Fatal("healthy symbol was not seeded")
	}
}

func TestBackfillSeedRejectsOlderLiveWrites(t *testing.T) {
	bars := histBars("BTC/USD", 5)
	p := &histProvider{hist: map[string][]models.Bar{"BTC/USD": bars}}
	cache := marketcache.New(100)

	b := NewBackfiller(BackfillConfig{
		Symbols: []string{"BTC/USD"}, Lookback: time.Hour,
	}, p, &memArchive{}, cache, logger.Nop(), newNopMetrics())
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// a live bar older than the seeded head must be rejected
	stale := models.Bar{Symbol: "BTC/USD", Timestamp: bars[2].Timestamp, Close: 1}
	if cache.PutBar(stale) {
		t.Fatal("stale live bar accepted over seeded history")
	}
}
