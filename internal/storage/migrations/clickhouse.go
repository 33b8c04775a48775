package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"stock-price-loader/internal/storage"
	chstore "stock-price-loader/internal/storage/clickhouse"
)

// RenderClickhouse returns the ClickHouse statements for table, in apply order.
func RenderClickhouse(table storage.TableRef) ([]string, error) {
	files, err := render(ClickhouseFS, "clickhouse", tableVars{Table: chstore.QuoteTable(table)})
	if err != nil {
		return nil, err
	}

	var stmts []string
	for i, data := range files {
		// Validate SQL doesn't contain semicolons in strings (would break splitter)
		if err := validateNoSemicolonInStrings(data); err != nil {
			return nil, fmt.Errorf("validate migration %d: %w", i+1, err)
		}
		// ClickHouse driver doesn't support multiquery in Exec
		stmts = append(stmts, splitStatements(data)...)
	}
	return stmts, nil
}

// RunClickhouseMigrations ensures the database exists and applies all embedded SQL files.
// Returns a ClickHouse connection to the target database for reuse.
func RunClickhouseMigrations(ctx context.Context, dsn string, table storage.TableRef) (*chstore.Conn, error) {
	dbName := table.Schema
	if dbName == "" {
		var err error
		if dbName, err = databaseFromDSN(dsn); err != nil {
			return nil, err
		}
		table.Schema = dbName
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", chstore.QuoteTable(storage.TableRef{Name: dbName}))); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	stmts, err := RenderClickhouse(table)
	if err != nil {
		conn.Close()
		return nil, err
	}

	for _, stmt := range stmts {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply clickhouse migration: %w", err)
		}
	}

	return conn, nil
}

// splitStatements splits SQL content into individual statements by semicolon.
//
// The splitter does NOT handle semicolons inside string literals or block comments.
// Migrations use -- comments only; validateNoSemicolonInStrings enforces the rest.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings checks that SQL doesn't contain semicolons inside
// single-quoted strings, which would break the statement splitter.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			// Handle escaped quotes ''
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon found inside string literal")
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
