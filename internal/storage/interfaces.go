package storage

import (
	"context"
	"strings"

	"stock-price-loader/internal/domain"
)

// PriceTable is a destination table for daily prices together with its staging table.
// Each method is one step of the staging-and-merge protocol and blocks until the
// backend acknowledges it.
type PriceTable interface {
	// DropStaging removes the staging table. A missing staging table is not an error.
	DropStaging(ctx context.Context) error

	// LoadStaging creates the staging table and bulk loads records into it.
	// Fails if the staging table already exists.
	LoadStaging(ctx context.Context, records []domain.PriceRecord) error

	// MergeStaging reconciles staged rows inside window into the destination table in a
	// single atomic statement: matching keys get their mutable fields overwritten,
	// missing keys are inserted. Returns the number of destination rows affected.
	MergeStaging(ctx context.Context, window domain.DateRange) (int64, error)

	// DeleteStaging removes the staging table. Returns ErrNotFound if it does not exist.
	DeleteStaging(ctx context.Context) error
}

// PriceReader reads reconciled rows from the destination table.
type PriceReader interface {
	// GetByRange retrieves rows with trade_date within window (inclusive),
	// ordered by symbol ASC, trade_date ASC.
	GetByRange(ctx context.Context, window domain.DateRange) ([]domain.PriceRecord, error)
}

// PriceStore is a destination that can be both written through the protocol and read back.
type PriceStore interface {
	PriceTable
	PriceReader
}

// TableRef identifies a table, optionally qualified by catalog and schema.
type TableRef struct {
	Catalog string // project or catalog prefix, empty for the connection default
	Schema  string // dataset, schema or database
	Name    string
}

// Parts returns the non-empty identifier parts, outermost first.
func (t TableRef) Parts() []string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Catalog, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// WithName returns a copy of t pointing at another table in the same schema.
func (t TableRef) WithName(name string) TableRef {
	t.Name = name
	return t
}

func (t TableRef) String() string {
	return strings.Join(t.Parts(), ".")
}
