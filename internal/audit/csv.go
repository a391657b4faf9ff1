package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	logx "wabulk/pkg/logx"
)

// csvStore appends one CSV line per record.
//
// Each record is encoded up front and handed to a single write call on an
// O_APPEND file, so a record is either fully present or absent.
type csvStore struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	file *os.File
}

func openCSV(path string, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		b, err := encodeCSV(Columns)
		if err == nil {
			_, err = f.Write(b)
		}
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
	}
	log.Debug("audit csv opened", logx.String("path", path))
	return &csvStore{path: path, log: log, file: f}, nil
}

func encodeCSV(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *csvStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeCSV(r.row())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	_, err = s.file.Write(b)
	return err
}

func (s *csvStore) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit header: %w", err)
	}

	out := []Record{}
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read audit log: %w", err)
		}
		rec, err := recordFromRow(header, cells)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func (s *csvStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
