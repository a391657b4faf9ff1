package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	logx "wabulk/pkg/logx"
)

const xlsxSheet = "Sheet1"

// xlsxStore keeps the log as a workbook. Every append loads the workbook,
// adds one row and atomically replaces the file.
type xlsxStore struct {
	path string
	log  logx.Logger

	mu     sync.RWMutex
	closed bool
}

func openXLSX(path string, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &xlsxStore{path: path, log: log}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f := excelize.NewFile()
		defer func() { _ = f.Close() }()
		if err := f.SetSheetRow(xlsxSheet, "A1", &Columns); err != nil {
			return nil, err
		}
		if err := s.save(f); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *xlsxStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("open audit workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	vals := r.row()
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return err
	}
	return s.save(f)
}

// save writes to a temp file next to the target and renames it into place.
func (s *xlsxStore) save(f *excelize.File) error {
	ext := filepath.Ext(s.path)
	tmp := strings.TrimSuffix(s.path, ext) + ".tmp" + ext
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *xlsxStore) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open audit workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, err
	}
	out := []Record{}
	if len(rows) == 0 {
		return out, nil
	}
	for _, cells := range rows[1:] {
		rec, err := recordFromRow(rows[0], cells)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *xlsxStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
