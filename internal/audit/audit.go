// Package audit is the durable, append-only log of every attempted send.
//
// Drivers:
//   - "csv": append-only CSV file (default)
//   - "xlsx": spreadsheet rewritten on every append
//   - "sqlite", "postgres": message_log table
//   - "redis": JSON records on a list
//
// Records are never updated or deleted. ReadAll returns the full history
// across runs and process restarts; use Filter to narrow it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "wabulk/pkg/logx"
)

// TimeLayout is the timestamp format of the tabular log.
const TimeLayout = "2006-01-02 15:04:05"

// Columns is the fixed header of the tabular log.
var Columns = []string{"timestamp", "phone", "type", "content", "status", "error_message"}

// Kind is the message kind of a record.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Status is the outcome of a record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one attempted send.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Phone     string    `json:"phone"`
	Type      Kind      `json:"type"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Error     string    `json:"error_message"`
}

// row renders r in column order.
func (r Record) row() []string {
	return []string{
		r.Timestamp.In(time.Local).Format(TimeLayout),
		r.Phone,
		string(r.Type),
		r.Content,
		string(r.Status),
		r.Error,
	}
}

// recordFromRow maps cells by header name. Missing columns stay empty.
func recordFromRow(header, cells []string) (Record, error) {
	get := func(name string) string {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) && i < len(cells) {
				return cells[i]
			}
		}
		return ""
	}
	ts, err := parseTime(get("timestamp"))
	if err != nil {
		return Record{}, err
	}
	return Record{
		Timestamp: ts,
		Phone:     get("phone"),
		Type:      Kind(get("type")),
		Content:   get("content"),
		Status:    Status(get("status")),
		Error:     get("error_message"),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// Store is the audit log. Append must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, r Record) error
	ReadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// Config configures the audit store.
type Config struct {
	Driver string
	// Path is the file for csv, xlsx and sqlite.
	Path string
	// DSN is the postgres connection string.
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisAddr   string
	RedisKey    string
}

const (
	defaultCSVPath  = "message_tracking/message_log.csv"
	defaultXLSXPath = "message_tracking/message_log.xlsx"
	defaultDBPath   = "message_tracking/message_log.db"
	defaultRedisKey = "wabulk:message_log"
)

var ErrClosed = errors.New("audit store closed")

// Drivers lists the accepted driver names.
var Drivers = []string{"csv", "xlsx", "sqlite", "postgres", "redis"}

// ValidDriver reports whether name selects a known driver. Empty means csv.
func ValidDriver(name string) bool {
	switch normalizeDriver(name) {
	case "csv", "xlsx", "sqlite", "postgres", "redis":
		return true
	}
	return false
}

func normalizeDriver(name string) string {
	d := strings.ToLower(strings.TrimSpace(name))
	switch d {
	case "":
		return "csv"
	case "excel":
		return "xlsx"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pg":
		return "postgres"
	}
	return d
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := normalizeDriver(cfg.Driver); d {
	case "csv":
		return openCSV(withDefault(cfg.Path, defaultCSVPath), log)
	case "xlsx":
		return openXLSX(withDefault(cfg.Path, defaultXLSXPath), log)
	case "sqlite":
		return openSQLite(withDefault(cfg.Path, defaultDBPath), cfg.BusyTimeout, log)
	case "postgres":
		return openPostgres(cfg.DSN, log)
	case "redis":
		return openRedis(cfg.RedisAddr, withDefault(cfg.RedisKey, defaultRedisKey), log)
	default:
		return nil, errors.New("unknown audit driver: " + d)
	}
}

func withDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
