package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/service/marketcache"
	"QuantPull/internal/usecase"
	"QuantPull/pkg/logger"
)

type stubMetrics struct{}

func (stubMetrics) RecordPoll(string)               {}
func (stubMetrics) RecordError(string)              {}
func (stubMetrics) RecordStaleWrite(string)         {}
func (stubMetrics) RecordLastPrice(string, float64) {}
func (stubMetrics) RecordSignal(string, string)     {}
func (stubMetrics) RecordLatency(string, float64)   {}

type stubProvider struct {
	assets     []models.Asset
	assetCalls int64
	err        error
}

func (p *stubProvider) LatestBars(context.Context, []string) (map[string]models.Bar, error) {
	return nil, nil
}
func (p *stubProvider) LatestOrderBooks(context.Context, []string) (map[string]models.OrderBookSnapshot, error) {
	return nil, nil
}
func (p *stubProvider) HistoricalBars(context.Context, string, domrepo.Timeframe, time.Time, time.Time) ([]models.Bar, error) {
	return nil, errors.New("not implemented")
}
func (p *stubProvider) Assets(context.Context) ([]models.Asset, error) {
	atomic.AddInt64(&p.assetCalls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return p.assets, nil
}

type apiEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestHandler(t *testing.T, provider *stubProvider) (*MarketHandler, *marketcache.Cache, *echo.Echo) {
	t.Helper()
	cache := marketcache.New(100)
	dm := usecase.NewDataManager(usecase.DataManagerConfig{Symbols: []string{"BTC/USD"}},
		provider, nil, cache, nil, logger.Nop(), stubMetrics{})
	engine := usecase.NewSignalEngine(usecase.SignalEngineConfig{}, logger.Nop(), stubMetrics{})

	h := NewMarketHandler(dm, engine, provider, nil, []string{"BTC/USD"}, nil, logger.Nop())
	e := echo.New()
	h.RegisterRoutes(e)
	return h, cache, e
}

func doGet(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBarsReturnsCachedBars(t *testing.T) {
	_, cache, e := newTestHandler(t, &stubProvider{})
	cache.PutBar(models.Bar{Symbol: "BTC/USD", Timestamp: time.Now(), Close: 50000})

	rec := doGet(e, "/api/bars?symbols=BTC/USD")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var bars map[string]models.Bar
	if err := json.Unmarshal(env.Data, &bars); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if bars["BTC/USD"].Close != 50000 {
		t.Fatalf("unexpected payload: %+v", bars)
	}
}

func TestBarHistoryRequiresSymbol(t *testing.T) {
	_, _, e := newTestHandler(t, &stubProvider{})
	rec := doGet(e, "/api/bars/history")
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 envelope, got %d", env.Status)
	}
}

func TestSignalsEvaluatesOnDemand(t *testing.T) {
	_, cache, e := newTestHandler(t, &stubProvider{})
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		px := 100.0
		if i >= 30 {
			px = 100 + float64(i-30)
		}
		cache.PutBar(models.Bar{Symbol: "BTC/USD", Timestamp: base.Add(time.Duration(i) * time.Minute), Close: px, Volume: 1})
	}
	cache.PutOrderBook(models.OrderBookSnapshot{
		Symbol: "BTC/USD", Timestamp: time.Now(),
		Bids: []models.PriceLevel{{Price: 109, Size: 9}},
		Asks: []models.PriceLevel{{Price: 110, Size: 1}},
	})

	rec := doGet(e, "/api/signals?symbols=BTC/USD")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var signals map[string]models.Signal
	if err := json.Unmarshal(env.Data, &signals); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	sig := signals["BTC/USD"]
	if sig.Action != models.ActionBuy {
		t.Fatalf("expected BUY on uptrend with bid pressure, got %s", sig.Action)
	}
}

func TestAssetsCachedBetweenCalls(t *testing.T) {
	p := &stubProvider{assets: []models.Asset{{Symbol: "BTC/USD", Name: "Bitcoin", Tradable: true}}}
	_, _, e := newTestHandler(t, p)

	for i := 0; i < 3; i++ {
		rec := doGet(e, "/api/assets")
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status %d", i, rec.Code)
		}
	}
	if n := atomic.LoadInt64(&p.assetCalls); n != 1 {
		t.Fatalf("expected 1 upstream asset fetch, got %d", n)
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	_, _, e := newTestHandler(t, &stubProvider{})
	rec := doGet(e, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
