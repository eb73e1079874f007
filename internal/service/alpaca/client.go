package alpaca

import (
	"context"
	"fmt"
	"time"

	"QuantPull/internal/domain/models"
	drepo "QuantPull/internal/domain/repository"
	"QuantPull/internal/service/ratelimit"
	xhttp "QuantPull/pkg/http"
)

const (
	historicalPageLimit = 10000
	historicalRetryMax  = 5
	historicalRetryWait = 5 * time.Second
)

// Client implements the MarketData collaborator against the Alpaca crypto
// data and trading APIs. All payload translation to domain models happens
// here; callers never see raw API shapes.
type Client struct {
	apiKey         string
	secretKey      string
	dataBaseURL    string
	tradingBaseURL string
	http           *xhttp.Client
	limiter        *ratelimit.Limiter
	requestsPerSec float64
}

// NewClient creates an Alpaca market-data client.
func NewClient(apiKey, secretKey, dataBaseURL, tradingBaseURL string, timeout time.Duration, requestsPerSec float64) *Client {
	return &Client{
		apiKey:         apiKey,
		secretKey:      secretKey,
		dataBaseURL:    dataBaseURL,
		tradingBaseURL: tradingBaseURL,
		http:           xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter:        ratelimit.New(),
		requestsPerSec: requestsPerSec,
	}
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{
		"accept":              "application/json",
		"APCA-API-KEY-ID":     c.apiKey,
		"APCA-API-SECRET-KEY": c.secretKey,
	}
}

// waitForSlot blocks until the client-side rate limit admits one request or
// the context is done.
func (c *Client) waitForSlot(ctx context.Context) error {
	if c.requestsPerSec <= 0 {
		return nil
	}
	for !c.limiter.Allow("alpaca", c.requestsPerSec, c.requestsPerSec) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

type barPayload struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

func (p barPayload) toBar(symbol string) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Timestamp: p.T,
		Open:      p.O,
		High:      p.H,
		Low:       p.L,
		Close:     p.C,
		Volume:    p.V,
	}
}

type levelPayload struct {
	P float64 `json:"p"`
	S float64 `json:"s"`
}

type orderBookPayload struct {
	T time.Time      `json:"t"`
	B []levelPayload `json:"b"`
	A []levelPayload `json:"a"`
}

func (p orderBookPayload) toSnapshot(symbol string) models.OrderBookSnapshot {
	ob := models.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: p.T,
		Bids:      make([]models.PriceLevel, 0, len(p.B)),
		Asks:      make([]models.PriceLevel, 0, len(p.A)),
	}
	for _, lvl := range p.B {
		ob.Bids = append(ob.Bids, models.PriceLevel{Price: lvl.P, Size: lvl.S})
	}
	for _, lvl := range p.A {
		ob.Asks = append(ob.Asks, models.PriceLevel{Price: lvl.P, Size: lvl.S})
	}
	return ob
}

// LatestBars fetches the most recent bar per symbol.
func (c *Client) LatestBars(ctx context.Context, symbols []string) (map[string]models.Bar, error) {
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Bars map[string]barPayload `json:"bars"`
	}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.dataBaseURL + "/latest/bars",
		Headers:     c.authHeaders(),
		QueryParams: map[string][]string{"symbols": symbols},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("latest bars: %w", err)
	}

	out := make(map[string]models.Bar, len(resp.Bars))
	for sym, p := range resp.Bars {
		out[sym] = p.toBar(sym)
	}
	return out, nil
}

// LatestOrderBooks fetches the most recent order-book snapshot per symbol.
func (c *Client) LatestOrderBooks(ctx context.Context, symbols []string) (map[string]models.OrderBookSnapshot, error) {
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		OrderBooks map[string]orderBookPayload `json:"orderbooks"`
	}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.dataBaseURL + "/latest/orderbooks",
		Headers:     c.authHeaders(),
		QueryParams: map[string][]string{"symbols": symbols},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("latest orderbooks: %w", err)
	}

	out := make(map[string]models.OrderBookSnapshot, len(resp.OrderBooks))
	for sym, p := range resp.OrderBooks {
		out[sym] = p.toSnapshot(sym)
	}
	return out, nil
}

// HistoricalBars fetches bars in [start, end) ascending, following
// next_page_token until exhausted. Each page gets a bounded number of
// retries before the fetch fails.
func (c *Client) HistoricalBars(ctx context.Context, symbol string, tf drepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	var all []models.Bar
	pageToken := ""

	for {
		var resp struct {
			Bars          map[string][]barPayload `json:"bars"`
			NextPageToken string                  `json:"next_page_token"`
		}

		params := map[string][]string{
			"symbols":   {symbol},
			"timeframe": {string(tf)},
			"start":     {start.UTC().Format(time.RFC3339)},
			"end":       {end.UTC().Format(time.RFC3339)},
			"limit":     {fmt.Sprintf("%d", historicalPageLimit)},
			"sort":      {"asc"},
		}
		if pageToken != "" {
			params["page_token"] = []string{pageToken}
		}

		if err := c.fetchPageWithRetry(ctx, params, &resp); err != nil {
			return all, fmt.Errorf("historical bars %s: %w", symbol, err)
		}

		for _, p := range resp.Bars[symbol] {
			all = append(all, p.toBar(symbol))
		}
		if resp.NextPageToken == "" {
			return all, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (c *Client) fetchPageWithRetry(ctx context.Context, params map[string][]string, dest interface{}) error {
	var lastErr error
	for attempt := 0; attempt < historicalRetryMax; attempt++ {
		if err := c.waitForSlot(ctx); err != nil {
			return err
		}
		lastErr = c.http.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         c.dataBaseURL + "/bars",
			Headers:     c.authHeaders(),
			QueryParams: params,
		}, dest)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(historicalRetryWait):
		}
	}
	return lastErr
}

// Assets fetches the tradable crypto asset catalog.
func (c *Client) Assets(ctx context.Context) ([]models.Asset, error) {
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}
	var assets []models.Asset
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.tradingBaseURL + "/v2/assets",
		Headers:     c.authHeaders(),
		QueryParams: map[string][]string{"asset_class": {"crypto"}},
	}, &assets)
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	return assets, nil
}

var _ drepo.MarketData = (*Client)(nil)
