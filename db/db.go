// Package db holds the state store schema.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var Schema string

// Statements splits the schema into executable statements, dropping comment lines.
func Statements() []string {
	var out []string
	for _, stmt := range strings.Split(Schema, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt = strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Migrate applies the schema in one transaction. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	stmts := Statements()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to execute statement %d/%d: %w", i+1, len(stmts), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration: %w", err)
	}
	return len(stmts), nil
}
