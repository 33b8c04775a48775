// Package marketdata defines the upstream price-source contract and its Yahoo Finance client.
package marketdata

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"stock-price-loader/internal/domain"
)

// ErrRetrieval is returned when the upstream query fails as a whole.
var ErrRetrieval = errors.New("retrieval failed")

// Field is one OHLCV column family.
type Field string

// Price fields carried by a Frame.
const (
	FieldOpen     Field = "Open"
	FieldHigh     Field = "High"
	FieldLow      Field = "Low"
	FieldClose    Field = "Close"
	FieldAdjClose Field = "Adj Close"
	FieldVolume   Field = "Volume"
)

// Fields lists every field in column order.
var Fields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldAdjClose, FieldVolume}

// Source returns daily price series for a set of symbols over a date window.
// A single Query call covers the whole symbol set.
type Source interface {
	Query(ctx context.Context, symbols []string, window domain.DateRange) (*Frame, error)
}

// column identifies one (field, symbol) series.
type column struct {
	field  Field
	symbol string
}

// Frame is a date-indexed table with one float column per (field, symbol).
// Missing cells read as NaN.
type Frame struct {
	index   []time.Time
	columns map[column][]float64
}

// Len returns the number of index dates.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.index)
}

// Index returns the sorted trade dates.
func (f *Frame) Index() []time.Time {
	if f == nil {
		return nil
	}
	return f.index
}

// Value returns the cell at row for (field, symbol), or NaN.
func (f *Frame) Value(field Field, symbol string, row int) float64 {
	if f == nil || row < 0 || row >= len(f.index) {
		return math.NaN()
	}
	col, ok := f.columns[column{field, symbol}]
	if !ok {
		return math.NaN()
	}
	return col[row]
}

// HasSymbol reports whether any column exists for symbol.
func (f *Frame) HasSymbol(symbol string) bool {
	if f == nil {
		return false
	}
	for _, field := range Fields {
		if _, ok := f.columns[column{field, symbol}]; ok {
			return true
		}
	}
	return false
}

// FrameBuilder accumulates cells in any order and produces a Frame.
type FrameBuilder struct {
	cells map[time.Time]map[column]float64
}

// NewFrameBuilder returns an empty builder.
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{cells: make(map[time.Time]map[column]float64)}
}

// Set stores a value. NaN values are ignored so the cell stays missing.
func (b *FrameBuilder) Set(date time.Time, field Field, symbol string, v float64) {
	if math.IsNaN(v) {
		return
	}
	d := domain.DateOf(date)
	row, ok := b.cells[d]
	if !ok {
		row = make(map[column]float64)
		b.cells[d] = row
	}
	row[column{field, symbol}] = v
}

// Frame builds the frame. Dates are sorted ascending.
func (b *FrameBuilder) Frame() *Frame {
	f := &Frame{columns: make(map[column][]float64)}
	for d := range b.cells {
		f.index = append(f.index, d)
	}
	sort.Slice(f.index, func(i, j int) bool { return f.index[i].Before(f.index[j]) })

	for i, d := range f.index {
		for col, v := range b.cells[d] {
			series, ok := f.columns[col]
			if !ok {
				series = make([]float64, len(f.index))
				for k := range series {
					series[k] = math.NaN()
				}
				f.columns[col] = series
			}
			series[i] = v
		}
	}
	return f
}
