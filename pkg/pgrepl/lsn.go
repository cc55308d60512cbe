package pgrepl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pglogrepl"
)

// ParseLSN parses a WAL position in any of the forms Postgres tooling
// produces: the canonical "X/X" form where both halves are hex, a decimal
// integer, or a 0x-prefixed hex integer. The zero LSN means "not set".
func ParseLSN(s string) (pglogrepl.LSN, error) {
	if strings.Contains(s, "/") {
		lsn, err := pglogrepl.ParseLSN(s)
		if err != nil {
			return 0, fmt.Errorf("parse lsn %q: %s", s, err)
		}
		return lsn, nil
	}

	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse lsn %q: %s", s, err)
	}

	return pglogrepl.LSN(n), nil
}
