// Package slot manages the Postgres logical replication slot: creating
// it if absent and resolving the LSN at which a new reader should
// resume. It is a direct Go translation of original_source's
// slot.ensure_replication_slot / slot.get_replication_slot_confirmed_lsn,
// built over internal/pgconn rather than psycopg.
package slot

import (
	"context"
	"fmt"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/pgconn"
)

// querier is the subset of *pgconn.Conn this package needs, narrowed so
// tests can substitute a fake connection.
type querier interface {
	Exec(ctx context.Context, sql string) error
	QueryRow(ctx context.Context, sql string) ([]string, error)
}

var _ querier = (*pgconn.Conn)(nil)

// Ensure creates the named logical replication slot if it does not
// already exist. It reports whether the slot was created by this call.
func Ensure(ctx context.Context, conn querier, slotName, outputPlugin string) (created bool, err error) {
	row, err := conn.QueryRow(ctx, fmt.Sprintf(
		"SELECT 1 FROM pg_replication_slots WHERE slot_name = %s",
		pgconn.QuoteLiteral(slotName),
	))
	if err != nil {
		return false, fmt.Errorf("slot: lookup %s: %w", slotName, err)
	}
	if row != nil {
		return false, nil
	}

	if err := conn.Exec(ctx, fmt.Sprintf(
		"SELECT * FROM pg_create_logical_replication_slot(%s, %s)",
		pgconn.QuoteLiteral(slotName), pgconn.QuoteLiteral(outputPlugin),
	)); err != nil {
		return false, fmt.Errorf("slot: create %s: %w", slotName, err)
	}
	return true, nil
}

// ResolveStartLSN returns the LSN a reader should request from
// START_REPLICATION: confirmed_flush_lsn if set, else restart_lsn, else
// zero for a slot that has never flushed or restarted.
func ResolveStartLSN(ctx context.Context, conn querier, slotName string) (lsn.LSN, error) {
	row, err := conn.QueryRow(ctx, fmt.Sprintf(
		"SELECT confirmed_flush_lsn::text, restart_lsn::text FROM pg_replication_slots WHERE slot_name = %s",
		pgconn.QuoteLiteral(slotName),
	))
	if err != nil {
		return 0, fmt.Errorf("slot: resolve start lsn for %s: %w", slotName, err)
	}
	if row == nil {
		return 0, &cdcerr.SlotMissingError{SlotName: slotName}
	}

	confirmedText, restartText := row[0], row[1]
	if l, ok, err := parseNullableLSN(slotName, "confirmed_flush_lsn", confirmedText); err != nil {
		return 0, err
	} else if ok {
		return l, nil
	}

	if l, ok, err := parseNullableLSN(slotName, "restart_lsn", restartText); err != nil {
		return 0, err
	} else if ok {
		return l, nil
	}

	return 0, nil
}

// parseNullableLSN parses text as an LSN unless it is the empty string
// (the simple query protocol renders SQL NULL as "" with no way to
// distinguish it from an actual empty value, which never occurs for
// these columns).
func parseNullableLSN(slotName, field, text string) (lsn.LSN, bool, error) {
	if text == "" {
		return 0, false, nil
	}
	l, err := lsn.Parse(text)
	if err != nil {
		return 0, false, fmt.Errorf("slot: %s.%s: %w", slotName, field, err)
	}
	return l, true, nil
}
