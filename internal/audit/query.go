package audit

import (
	"fmt"
	"strings"
	"time"
)

// Query narrows a history. Zero fields match everything.
// Since is inclusive, Until is exclusive.
type Query struct {
	Since  time.Time
	Until  time.Time
	Phone  string
	Status Status
}

// Filter returns the records matching q in their original order.
// The input slice is not modified.
func Filter(records []Record, q Query) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !r.Timestamp.Before(q.Until) {
			continue
		}
		if q.Phone != "" && r.Phone != q.Phone {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ParseTime reads a query bound given as RFC 3339, the log's own
// timestamp layout, or a bare date (local midnight).
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{TimeLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("audit: cannot parse time %q (use RFC 3339, %q or YYYY-MM-DD)", s, TimeLayout)
}
