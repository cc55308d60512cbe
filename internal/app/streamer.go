package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pglogrepl"
	"github.com/walfeed/walfeed/pkg/pgrepl"
	"golang.org/x/exp/slog"
)

// Replicator streams WAL payloads into a consumer.
type Replicator interface {
	Replicate(ctx context.Context, consume pgrepl.ConsumeFunc) error
	LastProcessedLSN() pglogrepl.LSN
	LastServerLSN() pglogrepl.LSN
}

// WalStreamer contains the logic of streaming decoded WAL messages to a
// sink. A payload is acknowledged only after the sink write returns, so the
// server never trims WAL the sink has not seen.
type WalStreamer struct {
	replicator Replicator
	out        io.Writer
}

// NewWalStreamer creates a new streamer.
func NewWalStreamer(r Replicator, out io.Writer) *WalStreamer {
	return &WalStreamer{
		replicator: r,
		out:        out,
	}
}

// Run runs the WalStreamer logic.
func (s *WalStreamer) Run(ctx context.Context) error {
	return s.replicator.Replicate(ctx, func(walData []byte) error {
		if walData == nil {
			slog.Info("feedback sent",
				"processed", s.replicator.LastProcessedLSN(),
				"server", s.replicator.LastServerLSN(),
			)
			return nil
		}

		if _, err := s.out.Write(walData); err != nil {
			return fmt.Errorf("write: %s", err)
		}
		if _, err := s.out.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("write: %s", err)
		}

		return nil
	})
}
