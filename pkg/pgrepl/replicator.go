package pgrepl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
)

// ConsumeFunc receives the payload of each WAL data message, in server
// order. It is also invoked with a nil payload after every feedback message
// sent while the stream runs, so callers can use feedback cycles as a
// heartbeat; the final feedback sent on exit is not followed by a nil
// payload. Returning ErrStop ends
// the stream cleanly; any other error aborts it and is returned by Replicate.
type ConsumeFunc func(walData []byte) error

// Replicator streams decoded WAL from one logical replication slot and acks
// consumed positions back to the server. It runs a single session: once
// Replicate returns, the instance is spent.
//
// The progress accessors may be called from other goroutines while the
// stream loop runs. Each field is read atomically on its own; a pair of
// fields read back to back is not a consistent snapshot.
type Replicator struct {
	cfg *Config

	mu   sync.Mutex
	conn *pgconn.PgConn
	done bool

	// Resolved at bootstrap: unset values adopt what the server reports.
	statusInterval time.Duration
	timeline       int64
	systemID       string
	database       string

	lastServerLSN    atomic.Uint64
	lastReceivedLSN  atomic.Uint64
	lastProcessedLSN atomic.Uint64
	lastSendTime     atomic.Int64 // microseconds since the Unix epoch
	lastStatus       atomic.Int64
}

// New creates a Replicator from the given options. The connection is not
// opened until InitializeReplication or Replicate is called.
func New(opts Options) (*Replicator, error) {
	cfg, err := ParseConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Replicator{
		cfg:            cfg,
		statusInterval: cfg.statusInterval,
		timeline:       cfg.timeline,
		systemID:       cfg.systemID,
		database:       cfg.connConfig.Database,
	}, nil
}

// Close releases the underlying connection. It is safe to call more than
// once and concurrently with the stream loop.
func (r *Replicator) Close(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close(ctx)
}

// Host returns the configured server host.
func (r *Replicator) Host() string { return r.cfg.connConfig.Host }

// Port returns the configured server port.
func (r *Replicator) Port() uint16 { return r.cfg.connConfig.Port }

// Slot returns the replication slot name.
func (r *Replicator) Slot() string { return r.cfg.slot }

// StartPosition returns the requested start LSN; zero lets the server
// resume from the slot's confirmed_flush_lsn.
func (r *Replicator) StartPosition() pglogrepl.LSN { return r.cfg.startPos }

// EndPosition returns the LSN the stream stops at; zero streams forever.
func (r *Replicator) EndPosition() pglogrepl.LSN { return r.cfg.endPos }

// PluginOptions returns the output plugin options as composed into
// START_REPLICATION.
func (r *Replicator) PluginOptions() []string {
	return append([]string(nil), r.cfg.pluginArgs...)
}

// Database returns the database name, adopting the server's value when the
// conninfo omitted one.
func (r *Replicator) Database() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.database
}

// Timeline returns the server timeline once known.
func (r *Replicator) Timeline() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeline
}

// SystemID returns the cluster system identifier once known.
func (r *Replicator) SystemID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemID
}

// StatusInterval returns the feedback cadence, resolved against the server's
// wal_receiver_status_interval when not configured.
func (r *Replicator) StatusInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusInterval
}

// LastServerLSN is the highest WAL flush position the server has reported.
func (r *Replicator) LastServerLSN() pglogrepl.LSN {
	return pglogrepl.LSN(r.lastServerLSN.Load())
}

// LastReceivedLSN is the WAL start position of the latest data message.
func (r *Replicator) LastReceivedLSN() pglogrepl.LSN {
	return pglogrepl.LSN(r.lastReceivedLSN.Load())
}

// LastProcessedLSN is the position of the last payload the consumer
// accepted. The next feedback message acks one byte past it.
func (r *Replicator) LastProcessedLSN() pglogrepl.LSN {
	return pglogrepl.LSN(r.lastProcessedLSN.Load())
}

// LastMessageSendTime is the server-side send time of the latest message.
func (r *Replicator) LastMessageSendTime() time.Time {
	return timeFromMicros(r.lastSendTime.Load())
}

// LastStatus is the wall-clock time of the latest outgoing feedback message.
func (r *Replicator) LastStatus() time.Time {
	return timeFromMicros(r.lastStatus.Load())
}

func timeFromMicros(micros int64) time.Time {
	if micros == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

// advanceLSN raises the counter to lsn, never lowering it. The server can
// resend positions we have already passed.
func advanceLSN(counter *atomic.Uint64, lsn uint64) {
	for {
		current := counter.Load()
		if lsn <= current || counter.CompareAndSwap(current, lsn) {
			return
		}
	}
}
