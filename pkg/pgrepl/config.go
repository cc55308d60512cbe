package pgrepl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Options are the caller-supplied settings for a replication session.
// Every field except ConnString and PluginOptions may alternatively be given
// as a key inside the connection string itself; such keys are consumed here
// and never reach the server. An explicit struct field wins over a conninfo
// key. PluginOptions is read only from the struct field: a plugin options key
// in the connection string is not recognised and is left with the other
// runtime parameters.
type Options struct {
	// ConnString is a libpq-style conninfo or URL. The replication=database
	// parameter is injected if absent.
	ConnString string

	// Slot is the name of an existing logical replication slot.
	Slot string

	// StartPosition is the WAL position to start streaming from, in any
	// form accepted by ParseLSN. Empty or "0" lets the server resume from
	// the slot's confirmed_flush_lsn.
	StartPosition string

	// EndPosition stops the stream once progress crosses it. Empty or "0"
	// streams indefinitely.
	EndPosition string

	// Timeline, if non-zero, must match the server's current timeline.
	Timeline int64

	// SystemID, if set, must match the server's system identifier.
	SystemID string

	// StatusInterval is the feedback cadence. Zero means use the server's
	// wal_receiver_status_interval setting.
	StatusInterval time.Duration

	// PluginOptions are passed to the output plugin in START_REPLICATION.
	// Values may be strings, booleans (rendered as on/off) or integers.
	PluginOptions map[string]any
}

// Conninfo keys consumed by the replicator rather than the driver.
var reservedKeys = map[string]string{
	"slot":            "slot",
	"start_position":  "start_position",
	"startpos":        "start_position",
	"end_position":    "end_position",
	"endpos":          "end_position",
	"timeline":        "timeline",
	"systemid":        "systemid",
	"status_interval": "status_interval",
}

// Config is the validated, immutable session configuration.
type Config struct {
	connConfig *pgconn.Config

	slot           string
	startPos       pglogrepl.LSN
	endPos         pglogrepl.LSN
	timeline       int64
	systemID       string
	statusInterval time.Duration
	pluginArgs     []string
}

// ParseConfig normalizes the options into a Config. The connection string is
// parsed by the driver; reserved keys are extracted and removed, empty-valued
// runtime parameters are dropped, and replication=database is enforced.
func ParseConfig(opts Options) (*Config, error) {
	connConfig, err := pgconn.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse conninfo: %s", err)
	}

	extracted := map[string]string{}
	for key, value := range connConfig.RuntimeParams {
		if canonical, ok := reservedKeys[key]; ok {
			if value != "" {
				extracted[canonical] = value
			}
			delete(connConfig.RuntimeParams, key)
			continue
		}
		if value == "" {
			delete(connConfig.RuntimeParams, key)
		}
	}
	connConfig.RuntimeParams["replication"] = "database"

	cfg := &Config{
		connConfig: connConfig,
		slot:       opts.Slot,
		timeline:   opts.Timeline,
		systemID:   opts.SystemID,
	}

	if cfg.slot == "" {
		cfg.slot = extracted["slot"]
	}
	if cfg.slot == "" {
		return nil, fmt.Errorf("replication slot name is required")
	}

	startPos := opts.StartPosition
	if startPos == "" {
		startPos = extracted["start_position"]
	}
	if startPos != "" {
		if cfg.startPos, err = ParseLSN(startPos); err != nil {
			return nil, fmt.Errorf("start position: %s", err)
		}
	}

	endPos := opts.EndPosition
	if endPos == "" {
		endPos = extracted["end_position"]
	}
	if endPos != "" {
		if cfg.endPos, err = ParseLSN(endPos); err != nil {
			return nil, fmt.Errorf("end position: %s", err)
		}
	}

	if cfg.timeline == 0 && extracted["timeline"] != "" {
		if cfg.timeline, err = strconv.ParseInt(extracted["timeline"], 10, 64); err != nil {
			return nil, fmt.Errorf("timeline: %s", err)
		}
	}
	if cfg.timeline < 0 {
		return nil, fmt.Errorf("timeline must be positive, got %d", cfg.timeline)
	}

	if cfg.systemID == "" {
		cfg.systemID = extracted["systemid"]
	}

	cfg.statusInterval = opts.StatusInterval
	if cfg.statusInterval == 0 && extracted["status_interval"] != "" {
		if cfg.statusInterval, err = parseStatusInterval(extracted["status_interval"]); err != nil {
			return nil, err
		}
	}
	if cfg.statusInterval < 0 {
		return nil, fmt.Errorf("status interval must be positive, got %s", cfg.statusInterval)
	}

	if cfg.pluginArgs, err = renderPluginOptions(opts.PluginOptions); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseStatusInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("status interval %q: %s", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// renderPluginOptions composes the option list for START_REPLICATION. Keys
// are quoted as identifiers and values as string literals, sorted by key so
// the composed command is stable.
func renderPluginOptions(options map[string]any) ([]string, error) {
	if len(options) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, key := range keys {
		value, err := renderOptionValue(options[key])
		if err != nil {
			return nil, fmt.Errorf("plugin option %q: %s", key, err)
		}
		ident := pgx.Identifier{key}.Sanitize()
		args = append(args, fmt.Sprintf("%s '%s'", ident, strings.ReplaceAll(value, "'", "''")))
	}

	return args, nil
}

func renderOptionValue(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case bool:
		if value {
			return "on", nil
		}
		return "off", nil
	case int:
		return strconv.Itoa(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case uint64:
		return strconv.FormatUint(value, 10), nil
	case fmt.Stringer:
		return value.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
