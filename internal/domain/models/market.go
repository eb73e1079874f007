package models

import "time"

// DataKind identifies which market-data feed a value came from.
type DataKind string

const (
	KindBar       DataKind = "bar"
	KindOrderBook DataKind = "orderbook"
	KindTrade     DataKind = "trade"
)

// Bar is an OHLCV aggregate for one symbol over one interval.
// Bars are immutable once produced; newer bars supersede older ones.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PriceLevel is a single (price, size) entry in an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is the latest top-of-book view for one symbol.
// Bids are ordered descending by price, asks ascending.
type OrderBookSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// BidDepth sums the size of all bid levels in the snapshot.
func (ob *OrderBookSnapshot) BidDepth() float64 {
	var total float64
	for _, lvl := range ob.Bids {
		total += lvl.Size
	}
	return total
}

// AskDepth sums the size of all ask levels in the snapshot.
func (ob *OrderBookSnapshot) AskDepth() float64 {
	var total float64
	for _, lvl := range ob.Asks {
		total += lvl.Size
	}
	return total
}

// TradeSide is the taker side of a trade print, when the feed reports it.
type TradeSide string

const (
	SideBuy     TradeSide = "B"
	SideSell    TradeSide = "S"
	SideUnknown TradeSide = ""
)

// Trade is a single trade print from the streaming feed.
type Trade struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Size      float64
	Side      TradeSide
}

// Asset describes one tradable instrument from the broker's catalog.
type Asset struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Tradable bool   `json:"tradable"`
}
