package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	icache "QuantPull/internal/service/cache"
	"QuantPull/internal/service/ratelimit"
	"QuantPull/internal/usecase"
	xhttp "QuantPull/pkg/http"
	applogger "QuantPull/pkg/logger"
)

const assetsCacheTTL = 10 * time.Minute

// MarketHandler exposes the read-only observability API: cached market
// data, on-demand signal evaluation, and the asset catalog.
type MarketHandler struct {
	data     *usecase.DataManager
	engine   *usecase.SignalEngine
	provider domrepo.MarketData
	archive  domrepo.BarArchive // may be nil
	symbols  []string
	cache    icache.BytesCache
	rl       *ratelimit.Limiter
	log      *applogger.Logger
}

// NewMarketHandler builds the handler. bytesCache backs the asset-catalog
// cache; nil falls back to an in-process TTL cache.
func NewMarketHandler(
	data *usecase.DataManager,
	engine *usecase.SignalEngine,
	provider domrepo.MarketData,
	archive domrepo.BarArchive,
	symbols []string,
	bytesCache icache.BytesCache,
	log *applogger.Logger,
) *MarketHandler {
	if bytesCache == nil {
		bytesCache = icache.NewTTLCache()
	}
	return &MarketHandler{
		data:     data,
		engine:   engine,
		provider: provider,
		archive:  archive,
		symbols:  symbols,
		cache:    bytesCache,
		rl:       ratelimit.New(),
		log:      log,
	}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/bars", h.Bars)
	g.GET("/bars/history", h.BarHistory)
	g.GET("/orderbooks", h.OrderBooks)
	g.GET("/signals", h.Signals)
	g.GET("/assets", h.Assets)
}

// Health reports process liveness plus archive reachability when wired.
func (h *MarketHandler) Health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if h.archive != nil {
		if err := h.archive.Health(c.Request().Context()); err != nil {
			status["archive"] = "unreachable"
			h.log.Warn("archive health check failed", applogger.Error(err))
		} else {
			status["archive"] = "ok"
		}
	}
	return xhttp.SuccessResponse(c, status)
}

// Bars returns the latest cached bar per requested symbol.
func (h *MarketHandler) Bars(c echo.Context) error {
	symbols := h.requestedSymbols(c)
	return xhttp.SuccessResponse(c, h.data.GetLatestBars(symbols))
}

type barHistoryRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"100" validate:"gte=0,lte=10000"`
	TF     string `query:"tf"`
	From   string `query:"from"`
	To     string `query:"to"`
}

// BarHistory returns recent bars for one symbol, newest last. An explicit
// from/to range goes straight to the provider; otherwise the archive serves
// it, with the in-memory ring as fallback.
func (h *MarketHandler) BarHistory(c echo.Context) error {
	req := &barHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if req.From != "" || req.To != "" {
		to := xhttp.ParseTimeDefault(req.To, time.Now())
		from := xhttp.ParseTimeDefault(req.From, to.Add(-2*time.Hour))
		if !from.Before(to) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("from must be before to"))
		}
		tf := domrepo.NormalizeTimeframe(req.TF)
		from, to = xhttp.AlignFromTo(from, to, string(tf))
		bars, err := h.provider.HistoricalBars(c.Request().Context(), req.Symbol, tf, from, to)
		if err != nil {
			h.log.Error("historical bars fetch failed",
				applogger.String("symbol", req.Symbol), applogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UpstreamError(err))
		}
		return xhttp.SuccessResponse(c, bars)
	}

	if h.archive != nil {
		bars, err := h.archive.RecentBars(c.Request().Context(), req.Symbol, req.Limit)
		if err == nil {
			return xhttp.SuccessResponse(c, bars)
		}
		h.log.Warn("archive history unavailable, serving cache",
			applogger.String("symbol", req.Symbol), applogger.Error(err))
	}
	return xhttp.SuccessResponse(c, h.data.BarHistory(req.Symbol, req.Limit))
}

// OrderBooks returns the latest cached order-book snapshot per symbol.
func (h *MarketHandler) OrderBooks(c echo.Context) error {
	symbols := h.requestedSymbols(c)
	return xhttp.SuccessResponse(c, h.data.GetLatestOrderBooks(symbols))
}

// Signals evaluates the strategy on the current cached data and returns the
// resulting signal per symbol. Purely a read: nothing is published.
func (h *MarketHandler) Signals(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":signals", 5, 2) {
		return xhttp.TooManyRequestsResponse(c, "rate limited")
	}

	symbols := h.requestedSymbols(c)
	books := h.data.GetLatestOrderBooks(symbols)

	out := make(map[string]models.Signal, len(symbols))
	now := time.Now()
	for _, sym := range symbols {
		bars := h.data.BarHistory(sym, 0)
		var book *models.OrderBookSnapshot
		if ob, ok := books[sym]; ok {
			book = &ob
		}
		out[sym] = h.engine.Evaluate(sym, bars, book, now)
	}
	return xhttp.SuccessResponse(c, out)
}

// Assets returns the tradable-asset catalog, cached for 10 minutes since
// the upstream list changes rarely and the call is rate limited upstream.
func (h *MarketHandler) Assets(c echo.Context) error {
	const key = "assets:crypto"
	if b, ok, err := h.cache.GetBytes(key); err == nil && ok {
		var assets []models.Asset
		if err := json.Unmarshal(b, &assets); err == nil {
			return xhttp.SuccessResponse(c, assets)
		}
	}

	assets, err := h.provider.Assets(c.Request().Context())
	if err != nil {
		h.log.Error("asset catalog fetch failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UpstreamError(err))
	}
	if b, err := json.Marshal(assets); err == nil {
		_ = h.cache.SetBytes(key, b, assetsCacheTTL)
	}
	return xhttp.SuccessResponse(c, assets)
}

// requestedSymbols parses ?symbols=A,B; empty means the configured universe.
func (h *MarketHandler) requestedSymbols(c echo.Context) []string {
	raw := c.QueryParam("symbols")
	if raw == "" {
		return h.symbols
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
