package app

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/require"
	"github.com/walfeed/walfeed/pkg/pgrepl"
)

type fakeReplicator struct {
	payloads  [][]byte
	processed pglogrepl.LSN
}

func (f *fakeReplicator) Replicate(_ context.Context, consume pgrepl.ConsumeFunc) error {
	for _, payload := range f.payloads {
		if err := consume(payload); err != nil {
			if errors.Is(err, pgrepl.ErrStop) {
				return nil
			}
			return err
		}
		if payload != nil {
			f.processed++
		}
	}
	return nil
}

func (f *fakeReplicator) LastProcessedLSN() pglogrepl.LSN { return f.processed }

func (f *fakeReplicator) LastServerLSN() pglogrepl.LSN { return f.processed }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("sink is gone") }

func TestWalStreamerWritesPayloadLines(t *testing.T) {
	replicator := &fakeReplicator{payloads: [][]byte{
		nil, // feedback sentinel before the first frame
		[]byte("BEGIN 501"),
		[]byte("table public.teas: INSERT: kind[text]:'煎茶'"),
		nil,
		[]byte("COMMIT 501"),
	}}

	var out bytes.Buffer
	streamer := NewWalStreamer(replicator, &out)
	require.NoError(t, streamer.Run(context.Background()))

	require.Equal(t,
		"BEGIN 501\ntable public.teas: INSERT: kind[text]:'煎茶'\nCOMMIT 501\n",
		out.String())
}

func TestWalStreamerPropagatesWriteErrors(t *testing.T) {
	replicator := &fakeReplicator{payloads: [][]byte{[]byte("BEGIN 501")}}

	streamer := NewWalStreamer(replicator, failingWriter{})
	err := streamer.Run(context.Background())
	require.ErrorContains(t, err, "sink is gone")
	require.Equal(t, pglogrepl.LSN(0), replicator.LastProcessedLSN())
}
