package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"stock-price-loader/internal/storage"
	chstore "stock-price-loader/internal/storage/clickhouse"
	"stock-price-loader/internal/storage/migrations"
)

var (
	testTable   = storage.TableRef{Schema: "stock", Name: "daily_stock_price"}
	testStaging = testTable.WithName("daily_stock_price_staging")
)

// setupTestDB creates a ClickHouse container, applies migrations and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*chstore.Conn, string, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start ClickHouse container
	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	// Get native port (9000)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn, testTable)
	require.NoError(t, err, "failed to apply migrations")

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, dsn, cleanup
}

// truncate empties the destination and removes any staging table between subtests.
func truncate(t *testing.T, conn *chstore.Conn) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS `stock`.`daily_stock_price`"))
	require.NoError(t, conn.Exec(ctx, "DROP TABLE IF EXISTS `stock`.`daily_stock_price_staging`"))
}
