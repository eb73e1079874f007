package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"QuantPull/internal/domain/models"
	domrepo "QuantPull/internal/domain/repository"
	pkgch "QuantPull/pkg/clickhouse"
)

const (
	barsTable      = "qp_bars"
	decisionsTable = "qp_decisions"
)

// barSchema creates the archive tables. ReplacingMergeTree keyed on
// (symbol, ts) makes re-running a backfill idempotent.
var barSchema = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        ts       DateTime64(3),
        symbol   LowCardinality(String),
        open     Float64,
        high     Float64,
        low      Float64,
        close    Float64,
        volume   Float64
    ) ENGINE = ReplacingMergeTree()
    ORDER BY (symbol, ts)`, barsTable),
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        ts          DateTime64(3),
        symbol      LowCardinality(String),
        action      LowCardinality(String),
        confidence  Float64,
        price       Float64,
        admissible  UInt8,
        size        Float64,
        stop_loss   Float64,
        take_profit Float64
    ) ENGINE = MergeTree()
    ORDER BY (symbol, ts)`, decisionsTable),
}

// ClickHouseBarArchive implements BarArchive over the shared ClickHouse
// client. It also carries the decision audit table used by the archiver.
type ClickHouseBarArchive struct {
	db *sql.DB
	ch *pkgch.Client
}

// NewClickHouseBarArchive ensures the schema exists and returns the archive.
func NewClickHouseBarArchive(ctx context.Context, ch *pkgch.Client) (*ClickHouseBarArchive, error) {
	if err := ch.InitSchema(ctx, barSchema); err != nil {
		return nil, fmt.Errorf("bar archive schema: %w", err)
	}
	return &ClickHouseBarArchive{db: ch.DB(), ch: ch}, nil
}

// StoreBars inserts bars in chunks of up to 2000 rows per statement.
func (a *ClickHouseBarArchive) StoreBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Symbol == "" || b.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, b.Timestamp, b.Symbol, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, open, high, low, close, volume) VALUES %s",
			barsTable, strings.Join(values, ","))
		if _, err := a.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

// RecentBars returns the newest limit bars for symbol in ascending order,
// suitable for seeding the in-memory bar ring.
func (a *ClickHouseBarArchive) RecentBars(ctx context.Context, symbol string, limit int) ([]models.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT ts, symbol, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?`, barsTable)

	rows, err := a.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, limit)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Symbol, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	// query is newest-first; callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// StoreDecision appends one risk decision to the audit table.
func (a *ClickHouseBarArchive) StoreDecision(ctx context.Context, d models.RiskDecision) error {
	admissible := uint8(0)
	if d.Admissible {
		admissible = 1
	}
	ts := d.Signal.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	q := fmt.Sprintf(`INSERT INTO %s
        (ts, symbol, action, confidence, price, admissible, size, stop_loss, take_profit)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, decisionsTable)
	if _, err := a.db.ExecContext(ctx, q,
		ts, d.Signal.Symbol, string(d.Signal.Action), d.Signal.Confidence,
		d.Signal.Price, admissible, d.Size, d.StopLoss, d.TakeProfit); err != nil {
		return fmt.Errorf("store decision: %w", err)
	}
	return nil
}

func (a *ClickHouseBarArchive) Health(ctx context.Context) error {
	return a.ch.Health(ctx)
}

func (a *ClickHouseBarArchive) Close() error {
	return a.ch.Close()
}

var _ domrepo.BarArchive = (*ClickHouseBarArchive)(nil)
