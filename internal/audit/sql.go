package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "wabulk/pkg/logx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type dialect struct {
	name   string
	schema string
	insert string
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		schema: "schema/sqlite.sql",
		insert: `INSERT INTO message_log("timestamp", phone, type, content, status, error_message) VALUES(?,?,?,?,?,?)`,
	}
	postgresDialect = dialect{
		name:   "postgres",
		schema: "schema/postgres.sql",
		insert: `INSERT INTO message_log("timestamp", phone, type, content, status, error_message) VALUES($1,$2,$3,$4,$5,$6)`,
	}
)

const selectAll = `SELECT "timestamp", phone, type, content, status, error_message FROM message_log ORDER BY id`

// sqlStore writes one row per record into message_log.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func openSQLite(path string, busyTimeout time.Duration, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(context.Background(), db, sqliteDialect, log)
}

func openPostgres(dsn string, log logx.Logger) (Store, error) {
	if dsn == "" {
		return nil, errors.New("audit.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect, log)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit %s migrate: %w", d.name, err)
	}
	log.Debug("audit database ready", logx.String("driver", d.name))
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile(s.d.schema)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	v := r.row()
	_, err := s.db.ExecContext(ctx, s.d.insert, v[0], v[1], v[2], v[3], v[4], v[5])
	return err
}

func (s *sqlStore) ReadAll(ctx context.Context) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var ts, phone, typ, content, status, msg string
		if err := rows.Scan(&ts, &phone, &typ, &content, &status, &msg); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{
			Timestamp: t,
			Phone:     phone,
			Type:      Kind(typ),
			Content:   content,
			Status:    Status(status),
			Error:     msg,
		})
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
