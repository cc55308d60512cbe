package pgrepl

import (
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/require"
)

func TestParseLSNCanonicalForm(t *testing.T) {
	cases := map[string]uint64{
		"0/0":               0,
		"0/16B3748":         23803720,
		"3B/6C036B08":       255215233800,
		"FFFFFFFF/FFFFFFFF": 1<<64 - 1,
	}

	for input, want := range cases {
		lsn, err := ParseLSN(input)
		require.NoError(t, err)
		require.Equal(t, pglogrepl.LSN(want), lsn)
	}
}

func TestParseLSNIntegerForms(t *testing.T) {
	lsn, err := ParseLSN("255215233800")
	require.NoError(t, err)
	require.Equal(t, pglogrepl.LSN(255215233800), lsn)

	lsn, err = ParseLSN("0x3B6C036B08")
	require.NoError(t, err)
	require.Equal(t, pglogrepl.LSN(255215233800), lsn)

	lsn, err = ParseLSN("0")
	require.NoError(t, err)
	require.Equal(t, pglogrepl.LSN(0), lsn)
}

func TestParseLSNRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 1 << 32, 23803720, 255215233800, 1<<64 - 1} {
		lsn, err := ParseLSN(pglogrepl.LSN(n).String())
		require.NoError(t, err)
		require.Equal(t, pglogrepl.LSN(n), lsn)
	}
}

func TestParseLSNRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "tea", "-1", "10.5"} {
		_, err := ParseLSN(input)
		require.Error(t, err, "input %q", input)
	}
}
