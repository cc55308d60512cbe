package pgrepl

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/require"
)

func TestAckPosition(t *testing.T) {
	// Nothing processed yet means nothing to ack.
	require.Equal(t, pglogrepl.LSN(0), ackPosition(0))

	// Otherwise the ack is one byte past the processed position, so the
	// server knows everything strictly before it is durable.
	require.Equal(t, pglogrepl.LSN(24), ackPosition(23))
	require.Equal(t, pglogrepl.LSN(255215233801), ackPosition(255215233800))
}

func TestAdvanceLSNIsMonotone(t *testing.T) {
	var counter atomic.Uint64

	advanceLSN(&counter, 10)
	require.Equal(t, uint64(10), counter.Load())

	// Replays of earlier positions never move the counter backwards.
	advanceLSN(&counter, 5)
	require.Equal(t, uint64(10), counter.Load())

	advanceLSN(&counter, 11)
	require.Equal(t, uint64(11), counter.Load())
}

func TestTimeFromMicros(t *testing.T) {
	require.True(t, timeFromMicros(0).IsZero())

	at := time.Date(2024, 7, 13, 10, 30, 0, 123456000, time.UTC)
	require.Equal(t, at, timeFromMicros(at.UnixMicro()))
}
