package pgrepl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// Replicate runs one replication session: it bootstraps the connection if
// needed, then receives WAL until an end condition fires, the consumer stops
// the stream, or ctx is cancelled. The connection is released on every exit
// path, and a final feedback message acks the last processed position unless
// the consumer itself failed.
func (r *Replicator) Replicate(ctx context.Context, consume ConsumeFunc) (err error) {
	if consume == nil {
		return fmt.Errorf("a consumer is required")
	}

	if err := r.InitializeReplication(ctx); err != nil {
		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	conn := r.conn
	interval := r.statusInterval
	r.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	consumerFailed := false
	defer func() {
		if !consumerFailed && !conn.IsClosed() {
			// Last ack lets the server trim WAL up to the processed position.
			_ = r.sendFeedback(context.Background(), conn)
		}
		if cerr := r.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
	}()

	// feedbackCycle sends one status update and delivers the nil sentinel.
	// stop reports that the consumer asked to leave the loop.
	feedbackCycle := func() (stop bool, err error) {
		if err := r.sendFeedback(ctx, conn); err != nil {
			return false, err
		}
		switch cerr := consume(nil); {
		case cerr == nil:
			return false, nil
		case errors.Is(cerr, ErrStop):
			return true, nil
		default:
			consumerFailed = true
			return false, cerr
		}
	}

	// Open the cadence with an immediate status update so the server sees a
	// live standby before the first frame arrives.
	if stop, err := feedbackCycle(); stop || err != nil {
		return err
	}

	endPos := r.cfg.endPos
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(r.LastStatus()) >= interval {
			if stop, err := feedbackCycle(); stop || err != nil {
				return err
			}
		}

		if endPos != 0 && r.LastProcessedLSN() >= endPos {
			return nil
		}

		rctx, cancel := context.WithDeadline(ctx, r.LastStatus().Add(interval))
		rawMsg, rerr := conn.ReceiveMessage(rctx)
		cancel()
		if rerr != nil {
			if pgconn.Timeout(rerr) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if strings.Contains(rerr.Error(), "no COPY in progress") {
				continue
			}
			return fmt.Errorf("receive message: %w", rerr)
		}

		switch msg := rawMsg.(type) {
		case *pgproto3.ErrorResponse:
			return fmt.Errorf("received Postgres WAL error: %s (%s)", msg.Message, msg.Code)

		case *pgproto3.CopyDone, *pgproto3.CommandComplete:
			// The server ended the copy stream.
			return nil

		case *pgproto3.CopyData:
			switch msg.Data[0] {
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, perr := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
				if perr != nil {
					return fmt.Errorf("parse primary keepalive message: %s", perr)
				}

				if pkm.ServerWALEnd != 0 {
					advanceLSN(&r.lastServerLSN, uint64(pkm.ServerWALEnd))
				}
				r.lastSendTime.Store(pkm.ServerTime.UnixMicro())

				if pkm.ReplyRequested {
					if stop, err := feedbackCycle(); stop || err != nil {
						return err
					}
				}
				if endPos != 0 && r.LastServerLSN() >= endPos {
					return nil
				}

			case pglogrepl.XLogDataByteID:
				xld, perr := pglogrepl.ParseXLogData(msg.Data[1:])
				if perr != nil {
					return fmt.Errorf("parse xlog data: %s", perr)
				}

				if xld.WALStart != 0 {
					advanceLSN(&r.lastReceivedLSN, uint64(xld.WALStart))
				}
				if xld.ServerWALEnd != 0 {
					advanceLSN(&r.lastServerLSN, uint64(xld.ServerWALEnd))
				}
				r.lastSendTime.Store(xld.ServerTime.UnixMicro())

				// Data past the bound is never delivered.
				if endPos != 0 && r.LastReceivedLSN() > endPos {
					return nil
				}

				if cerr := consume(xld.WALData); cerr != nil {
					if errors.Is(cerr, ErrStop) {
						return nil
					}
					consumerFailed = true
					return cerr
				}
				if xld.WALStart != 0 {
					advanceLSN(&r.lastProcessedLSN, uint64(xld.WALStart))
				}

			default:
				return fmt.Errorf("unknown replication message type %#x", msg.Data[0])
			}

		default:
			// NoticeResponse, ParameterStatus and friends carry no WAL state.
		}
	}
}

// sendFeedback writes one Standby Status Update. All three positions carry
// the same ack: one byte past the last processed position, or zero when
// nothing has been processed yet. The server reads the ack as "everything
// strictly before this position is durable".
func (r *Replicator) sendFeedback(ctx context.Context, conn *pgconn.PgConn) error {
	ack := ackPosition(r.LastProcessedLSN())
	if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: ack,
		WALFlushPosition: ack,
		WALApplyPosition: ack,
	}); err != nil {
		return fmt.Errorf("send standby status update: %s", err)
	}

	r.lastStatus.Store(time.Now().UnixMicro())

	return nil
}

func ackPosition(processed pglogrepl.LSN) pglogrepl.LSN {
	if processed == 0 {
		return 0
	}
	return processed + 1
}
