// Package pgconn is a thin wrapper over jackc/pgx/v5/pgconn, supplying
// the upstream transport (dial, simple-query exec, raw message
// send/receive) used by the slot manager, leader gate, and replication
// reader. It deliberately does not decode replication frames itself —
// that's internal/protocol's job, kept as the hand-rolled core the
// spec calls for; this package only moves bytes.
package pgconn

import (
	"context"
	"fmt"
	"strings"

	pgx "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
)

// Conn wraps a single physical connection.
type Conn struct {
	raw *pgx.PgConn
}

// Connect opens a connection using conninfo verbatim. For a replication
// connection, conninfo must already include "replication=database".
func Connect(ctx context.Context, conninfo string) (*Conn, error) {
	raw, err := pgx.Connect(ctx, conninfo)
	if err != nil {
		return nil, fmt.Errorf("pgconn: connect: %w", err)
	}
	return &Conn{raw: raw}, nil
}

// ConnectReplication opens conninfo with the replication=database
// runtime parameter set, independent of whether conninfo is a
// keyword/value string or a URI (appending " replication=database" to
// a URI string would not parse).
func ConnectReplication(ctx context.Context, conninfo string) (*Conn, error) {
	cfg, err := pgx.ParseConfig(conninfo)
	if err != nil {
		return nil, fmt.Errorf("pgconn: parse config: %w", err)
	}
	cfg.RuntimeParams["replication"] = "database"

	raw, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgconn: connect replication: %w", err)
	}
	return &Conn{raw: raw}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.raw.Close(ctx)
}

// Exec runs sql using the simple query protocol and discards any result
// rows, returning only an error. Used for statements whose result is
// uninteresting (slot creation, START_REPLICATION negotiation handled
// separately).
func (c *Conn) Exec(ctx context.Context, sql string) error {
	_, err := c.raw.Exec(ctx, sql).ReadAll()
	if err != nil {
		return fmt.Errorf("pgconn: exec: %w", err)
	}
	return nil
}

// QueryRow runs sql and returns the first row's column values as raw
// text (simple query protocol results are always text format), or nil
// if there were no rows.
func (c *Conn) QueryRow(ctx context.Context, sql string) ([]string, error) {
	results, err := c.raw.Exec(ctx, sql).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("pgconn: query: %w", err)
	}
	for _, res := range results {
		if len(res.Rows) > 0 {
			row := res.Rows[0]
			out := make([]string, len(row))
			for i, col := range row {
				out[i] = string(col)
			}
			return out, nil
		}
	}
	return nil, nil
}

// StartReplication issues sql (a START_REPLICATION statement) over the
// raw frontend and blocks until the server confirms COPY_BOTH mode.
// conn.Exec is unsuitable here: the simple query protocol's normal
// RowDescription/CommandComplete handling doesn't apply to a command
// that puts the connection into copy-both mode.
func (c *Conn) StartReplication(ctx context.Context, sql string) error {
	fe := c.raw.Frontend()
	fe.Send(&pgproto3.Query{String: sql})
	if err := fe.Flush(); err != nil {
		return fmt.Errorf("pgconn: start replication: send: %w", err)
	}

	for {
		msg, err := c.raw.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("pgconn: start replication: %w", err)
		}
		switch m := msg.(type) {
		case *pgproto3.CopyBothResponse:
			return nil
		case *pgproto3.ErrorResponse:
			return &cdcerr.ReplicationStartFailedError{
				Status: m.Code,
				Cause:  fmt.Errorf("pgconn: start replication: %s: %s", m.Code, m.Message),
			}
		}
	}
}

// ReceiveMessage blocks for the next backend message (CopyData,
// ErrorResponse, or otherwise), honoring ctx cancellation.
func (c *Conn) ReceiveMessage(ctx context.Context) (pgproto3.BackendMessage, error) {
	return c.raw.ReceiveMessage(ctx)
}

// ReceiveCopyData blocks for the next CopyData frame once the
// connection is in copy-both mode, surfacing a server ErrorResponse as
// an error. Other message kinds encountered in between (NoticeResponse
// and similar) are skipped, mirroring the receive-loop dispatch a
// logical replication client always needs.
func (c *Conn) ReceiveCopyData(ctx context.Context) ([]byte, error) {
	for {
		msg, err := c.raw.ReceiveMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("pgconn: receive: %w", err)
		}
		switch m := msg.(type) {
		case *pgproto3.CopyData:
			return m.Data, nil
		case *pgproto3.ErrorResponse:
			return nil, fmt.Errorf("pgconn: server error %s: %s", m.Code, m.Message)
		}
	}
}

// SendCopyData writes a raw CopyData frame (e.g. an encoded
// StandbyStatusUpdate) to the server.
func (c *Conn) SendCopyData(ctx context.Context, data []byte) error {
	fe := c.raw.Frontend()
	fe.Send(&pgproto3.CopyData{Data: data})
	return fe.Flush()
}

// QuoteLiteral escapes s for embedding as a SQL string literal. Used
// for the handful of identifiers (slot name, plugin name) that come
// from configuration rather than from the protocol itself.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
