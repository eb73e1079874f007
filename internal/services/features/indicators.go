package features

import (
	"math"

	"QuantPull/internal/domain/models"
)

// ComputeReturns computes simple returns r_t = (C_t - C_{t-1}) / C_{t-1}.
// It returns a slice of length len(bars)-1, or nil if insufficient data.
func ComputeReturns(bars []models.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		cur := bars[i].Close
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// SMA computes the simple moving average of the last window closes.
// Returns (0, false) when fewer than window bars are available.
func SMA(bars []models.Bar, window int) (float64, bool) {
	if window <= 0 || len(bars) < window {
		return 0, false
	}
	sum := 0.0
	for i := len(bars) - window; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(window), true
}

// RealizedVolatility computes the standard deviation of the given returns.
// Returns 0 when fewer than two observations exist.
func RealizedVolatility(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for _, r := range returns {
		sum += r
		sum2 += r * r
	}
	mean := sum / float64(n)
	variance := (sum2 - float64(n)*mean*mean) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// OrderBookImbalance computes (Σbid − Σask) / (Σbid + Σask) over the depth
// present in the snapshot, in [-1, 1]. Positive values favor buying.
// Returns (0, false) when the book has no depth on either side.
func OrderBookImbalance(ob models.OrderBookSnapshot) (float64, bool) {
	bid := ob.BidDepth()
	ask := ob.AskDepth()
	total := bid + ask
	if total <= 0 {
		return 0, false
	}
	imb := (bid - ask) / total
	return Clamp(imb, -1, 1), true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
