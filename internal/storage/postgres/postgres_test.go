package postgres_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stock-price-loader/internal/storage"
	"stock-price-loader/internal/storage/postgres"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name string
		ref  storage.TableRef
		want string
	}{
		{"table only", storage.TableRef{Name: "daily_stock_price"}, `"daily_stock_price"`},
		{"schema", storage.TableRef{Schema: "stock", Name: "daily_stock_price"}, `"stock"."daily_stock_price"`},
		{"catalog dropped", storage.TableRef{Catalog: "analytics", Schema: "stock", Name: "daily_stock_price"}, `"stock"."daily_stock_price"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postgres.Identifier(tt.ref).Sanitize())
		})
	}
}
