package pgrepl

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
)

// Conn adds replication-progress queries to pgx.Conn. It uses a regular
// query-mode connection, not the replication-mode one the Replicator holds.
type Conn struct {
	*pgx.Conn
}

// ConfirmedFlushLSN fetches the position the server considers acknowledged
// for the given slot.
func (c *Conn) ConfirmedFlushLSN(ctx context.Context, slot string) (pglogrepl.LSN, error) {
	var lsn pglogrepl.LSN
	if err := c.QueryRow(
		ctx,
		"SELECT confirmed_flush_lsn FROM pg_replication_slots WHERE slot_name = $1", slot,
	).Scan(&lsn); err != nil {
		return 0, fmt.Errorf("query row: %w", err)
	}
	return lsn, nil
}

// CurrentWALLSN fetches the server's current WAL write position.
func (c *Conn) CurrentWALLSN(ctx context.Context) (pglogrepl.LSN, error) {
	var lsn pglogrepl.LSN
	if err := c.QueryRow(ctx, "SELECT pg_current_wal_lsn()").Scan(&lsn); err != nil {
		return 0, fmt.Errorf("query row: %w", err)
	}
	return lsn, nil
}

// SlotIsActive reports whether another receiver currently holds the slot.
func (c *Conn) SlotIsActive(ctx context.Context, slot string) (bool, error) {
	var active bool
	if err := c.QueryRow(
		ctx,
		"SELECT active FROM pg_replication_slots WHERE slot_name = $1", slot,
	).Scan(&active); err != nil {
		return false, fmt.Errorf("query row: %w", err)
	}
	return active, nil
}
