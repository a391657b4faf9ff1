package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "wabulk/pkg/logx"
)

func sampleRecords() []Record {
	base := time.Date(2026, 10, 18, 9, 30, 0, 0, time.Local)
	return []Record{
		{Timestamp: base, Phone: "919322612069", Type: KindText, Content: "hello, world", Status: StatusSuccess},
		{Timestamp: base.Add(time.Second), Phone: "919322612070", Type: KindImage, Content: "Image: promo.png", Status: StatusFailed, Error: "chat not found"},
		{Timestamp: base.Add(2 * time.Second), Phone: "919322612071", Type: KindText, Content: "line one\nline \"two\"", Status: StatusSuccess},
	}
}

func assertSameRecords(t *testing.T, want, got []Record) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "record %d timestamp: want %v got %v", i, want[i].Timestamp, got[i].Timestamp)
		w, g := want[i], got[i]
		w.Timestamp, g.Timestamp = time.Time{}, time.Time{}
		assert.Equal(t, w, g, "record %d", i)
	}
}

func storeDrivers(t *testing.T) map[string]func(t *testing.T, dir string) Config {
	return map[string]func(t *testing.T, dir string) Config{
		"csv": func(t *testing.T, dir string) Config {
			return Config{Driver: "csv", Path: filepath.Join(dir, "log", "message_log.csv")}
		},
		"xlsx": func(t *testing.T, dir string) Config {
			return Config{Driver: "xlsx", Path: filepath.Join(dir, "message_log.xlsx")}
		},
		"sqlite": func(t *testing.T, dir string) Config {
			return Config{Driver: "sqlite", Path: filepath.Join(dir, "message_log.db")}
		},
		"redis": func(t *testing.T, dir string) Config {
			mr := miniredis.RunT(t)
			return Config{Driver: "redis", RedisAddr: mr.Addr(), RedisKey: "test:log"}
		},
	}
}

func TestStoreAppendAndReadBack(t *testing.T) {
	for name, mk := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			cfg := mk(t, t.TempDir())
			ctx := context.Background()

			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)

			got, err := st.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			want := sampleRecords()
			for _, r := range want {
				require.NoError(t, st.Append(ctx, r))
			}
			got, err = st.ReadAll(ctx)
			require.NoError(t, err)
			assertSameRecords(t, want, got)
			require.NoError(t, st.Close())

			// History survives a reopen and keeps growing.
			st, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			extra := Record{Timestamp: want[2].Timestamp.Add(time.Minute), Phone: "919322612072", Type: KindText, Content: "again", Status: StatusSuccess}
			require.NoError(t, st.Append(ctx, extra))
			got, err = st.ReadAll(ctx)
			require.NoError(t, err)
			assertSameRecords(t, append(want, extra), got)
		})
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	for name, mk := range storeDrivers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := Open(mk(t, t.TempDir()), logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			const n = 40
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- st.Append(context.Background(), Record{
						Timestamp: time.Now(),
						Phone:     fmt.Sprintf("9193226120%02d", i),
						Type:      KindText,
						Content:   strings.Repeat("x", 200),
						Status:    StatusSuccess,
					})
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			got, err := st.ReadAll(context.Background())
			require.NoError(t, err)
			require.Len(t, got, n)
			seen := map[string]bool{}
			for _, r := range got {
				assert.Len(t, r.Content, 200)
				seen[r.Phone] = true
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestCSVFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message_log.csv")
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Append(context.Background(), sampleRecords()[1]))
	require.NoError(t, st.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"timestamp,phone,type,content,status,error_message\n"+
			"2026-10-18 09:30:01,919322612070,image,Image: promo.png,failed,chat not found\n",
		string(b))

	assert.ErrorIs(t, st.Append(context.Background(), sampleRecords()[0]), ErrClosed)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	assert.EqualError(t, err, "unknown audit driver: mongo")

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)

	assert.True(t, ValidDriver(""))
	assert.True(t, ValidDriver("PostgreSQL"))
	assert.False(t, ValidDriver("mongo"))
}

func TestPostgresStoreWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS message_log").WillReturnResult(sqlmock.NewResult(0, 0))
	st, err := newSQLStore(context.Background(), db, postgresDialect, logx.Nop())
	require.NoError(t, err)

	rec := sampleRecords()[0]
	insert := regexp.QuoteMeta(postgresDialect.insert)
	mock.ExpectExec(insert).
		WithArgs("2026-10-18 09:30:00", "919322612069", "text", "hello, world", "success", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WillReturnError(errors.New("disk full"))

	require.NoError(t, st.Append(context.Background(), rec))
	assert.EqualError(t, st.Append(context.Background(), rec), "disk full")

	rows := sqlmock.NewRows([]string{"timestamp", "phone", "type", "content", "status", "error_message"}).
		AddRow("2026-10-18 09:30:00", "919322612069", "text", "hello, world", "success", "").
		AddRow("2026-10-18 09:30:01", "919322612070", "image", "Image: promo.png", "failed", "chat not found")
	mock.ExpectQuery(regexp.QuoteMeta(selectAll)).WillReturnRows(rows)

	got, err := st.ReadAll(context.Background())
	require.NoError(t, err)
	assertSameRecords(t, sampleRecords()[:2], got)

	mock.ExpectClose()
	require.NoError(t, st.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err = newSQLStore(context.Background(), db, postgresDialect, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit postgres migrate")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreBadTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	st, err := newSQLStore(context.Background(), db, sqliteDialect, logx.Nop())
	require.NoError(t, err)

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"timestamp", "phone", "type", "content", "status", "error_message"}).
			AddRow("yesterday", "1", "text", "", "success", ""))
	_, err = st.ReadAll(context.Background())
	assert.ErrorContains(t, err, "bad timestamp")
}

func TestFilter(t *testing.T) {
	recs := sampleRecords()
	base := recs[0].Timestamp

	assert.Len(t, Filter(recs, Query{}), 3)
	assert.Equal(t, recs[1:], Filter(recs, Query{Since: base.Add(time.Second)}))
	assert.Equal(t, recs[:1], Filter(recs, Query{Until: base.Add(time.Second)}))
	assert.Equal(t, recs[1:2], Filter(recs, Query{Status: StatusFailed}))
	assert.Equal(t, recs[2:], Filter(recs, Query{Phone: "919322612071"}))
	assert.Len(t, recs, 3)
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2025-03-01 09:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local), got)

	got, err = ParseTime("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local), got)

	got, err = ParseTime("2025-03-01T09:30:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
