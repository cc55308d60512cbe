package pgrepl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/exp/slog"
)

// InitializeReplication opens the replication connection and runs the
// session handshake up to and including START_REPLICATION. Replicate calls
// it lazily; it is exported so the handshake can be exercised on its own.
// On any failure the connection is closed and the handle cleared before the
// error surfaces.
func (r *Replicator) InitializeReplication(ctx context.Context) error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.conn != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	conn, err := pgconn.ConnectConfig(ctx, r.cfg.connConfig)
	if err != nil {
		return fmt.Errorf("connect: %s", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if err := r.bootstrap(ctx, conn); err != nil {
		_ = r.Close(context.Background())
		return err
	}

	return nil
}

func (r *Replicator) bootstrap(ctx context.Context, conn *pgconn.PgConn) error {
	if conn.IsClosed() {
		return fmt.Errorf("replication connection is not healthy")
	}

	// Empty the search path so objects referenced while decoding resolve
	// only through the catalog. Not supported before v10.
	if serverMajorVersion(conn) >= 10 {
		if err := execTuples(ctx, conn, "SELECT pg_catalog.set_config('search_path', '', false)"); err != nil {
			return fmt.Errorf("reset search_path: %s", err)
		}
	}

	// Timestamp decoding assumes microsecond integers since 2000-01-01.
	if v := conn.ParameterStatus("integer_datetimes"); v != "on" {
		return fmt.Errorf("integer_datetimes must be on, server reports %q", v)
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("IDENTIFY_SYSTEM: %s", err)
	}

	r.mu.Lock()
	systemID, timeline, database := r.systemID, r.timeline, r.database
	r.mu.Unlock()

	if systemID == "" {
		systemID = sysident.SystemID
	} else if systemID != sysident.SystemID {
		return &IdentityError{Field: "systemid", Specified: systemID, Server: sysident.SystemID}
	}

	serverTimeline := int64(sysident.Timeline)
	if timeline == 0 {
		timeline = serverTimeline
	} else if timeline != serverTimeline {
		return &IdentityError{
			Field:     "timeline",
			Specified: strconv.FormatInt(timeline, 10),
			Server:    strconv.FormatInt(serverTimeline, 10),
		}
	}

	if database == "" {
		database = sysident.DBName
	} else if database != sysident.DBName {
		return &IdentityError{Field: "dbname", Specified: database, Server: sysident.DBName}
	}

	statusInterval := r.cfg.statusInterval
	if statusInterval == 0 {
		if statusInterval, err = serverStatusInterval(ctx, conn); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.systemID = systemID
	r.timeline = timeline
	r.database = database
	r.statusInterval = statusInterval
	r.mu.Unlock()

	if err := pglogrepl.StartReplication(ctx, conn, r.cfg.slot, r.cfg.startPos, pglogrepl.StartReplicationOptions{
		Mode:       pglogrepl.LogicalReplication,
		PluginArgs: r.cfg.pluginArgs,
	}); err != nil {
		return fmt.Errorf("START_REPLICATION SLOT %s LOGICAL %s: %s", r.cfg.slot, r.cfg.startPos, err)
	}

	slog.Info("logical replication started",
		"slot", r.cfg.slot, "start_position", r.cfg.startPos, "timeline", timeline)

	return nil
}

func serverMajorVersion(conn *pgconn.PgConn) int {
	version := conn.ParameterStatus("server_version")
	version, _, _ = strings.Cut(version, " ")
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// execTuples runs one simple query and requires it to come back with rows.
func execTuples(ctx context.Context, conn *pgconn.PgConn, sql string) error {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return fmt.Errorf("expected a tuples result from %q", sql)
	}
	return nil
}

// serverStatusInterval reads wal_receiver_status_interval, the feedback
// cadence used when the caller did not configure one.
func serverStatusInterval(ctx context.Context, conn *pgconn.PgConn) (time.Duration, error) {
	results, err := conn.Exec(ctx,
		"SELECT setting FROM pg_catalog.pg_settings WHERE name = 'wal_receiver_status_interval'").ReadAll()
	if err != nil {
		return 0, fmt.Errorf("query wal_receiver_status_interval: %s", err)
	}
	if len(results) == 0 || len(results[0].Rows) == 0 || len(results[0].Rows[0]) == 0 {
		return 0, fmt.Errorf("wal_receiver_status_interval is not available")
	}

	secs, err := strconv.Atoi(string(results[0].Rows[0][0]))
	if err != nil {
		return 0, fmt.Errorf("parse wal_receiver_status_interval: %s", err)
	}
	if secs <= 0 {
		// The GUC can be disabled on the server; keep a sane cadence so the
		// stream loop never blocks unbounded.
		secs = 10
	}

	return time.Duration(secs) * time.Second, nil
}
