package domain

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar date form used on the command line and in tables.
const DateLayout = "2006-01-02"

// PriceRecord is one row of daily OHLCV data.
// Corresponds to the daily_stock_price destination table.
type PriceRecord struct {
	Symbol    string    // ticker, natural key part
	TradeDate time.Time // midnight UTC, natural key part
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjClose  float64 // split/dividend adjusted close
	Volume    int64
}

// PriceKey is the natural key of a PriceRecord.
type PriceKey struct {
	Symbol    string
	TradeDate time.Time
}

// Key returns the (symbol, trade_date) natural key.
func (p PriceRecord) Key() PriceKey {
	return PriceKey{Symbol: p.Symbol, TradeDate: DateOf(p.TradeDate)}
}

// DateString returns the trade date as YYYY-MM-DD.
func (p PriceRecord) DateString() string {
	return p.TradeDate.Format(DateLayout)
}

func (k PriceKey) String() string {
	return fmt.Sprintf("%s@%s", k.Symbol, k.TradeDate.Format(DateLayout))
}

// DateOf truncates t to its calendar date at midnight UTC.
// The calendar fields of t are kept as-is, whatever its location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
