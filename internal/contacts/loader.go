package contacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

// GroupColumn is the optional column used to select a subset of contacts.
const GroupColumn = "group"

const defaultSampleSize = 50

// RejectedEntry is a row whose phone value could not be normalized.
// Row is the 1-based line in the source file, counting the header.
type RejectedEntry struct {
	Row    int    `json:"row"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Adjustment records a number produced by one of the guessing rules.
type Adjustment struct {
	Row    int          `json:"row"`
	Raw    string       `json:"raw"`
	Number phone.Number `json:"number"`
	Rule   string       `json:"rule"`
}

// Result is the outcome of loading one contact list.
type Result struct {
	Column   string          `json:"column"`
	Method   DetectMethod    `json:"method"`
	Numbers  []phone.Number  `json:"numbers"`
	Rejected []RejectedEntry `json:"rejected"`
	Adjusted []Adjustment    `json:"adjusted,omitempty"`
	// Total counts the rows considered after group filtering.
	Total int `json:"total"`
}

// Loader reads contact files into canonical recipient lists.
type Loader struct {
	CountryCode string
	// Strict rejects numbers produced by ambiguous length rules instead of flagging them.
	Strict bool
	// SampleSize bounds the rows inspected by column detection.
	SampleSize int
	// Remote fetches s3:// locations. Nil disables remote sources.
	Remote Fetcher
	Log    logx.Logger
}

// Load reads location and normalizes the phone column of every row that
// matches group. A file whose rows are all rejected is not an error.
func (l *Loader) Load(ctx context.Context, location, group string) (*Result, error) {
	path := location
	if IsRemote(location) {
		if l.Remote == nil {
			return nil, &ParseError{Path: location, Err: errors.New("remote sources are not configured")}
		}
		local, err := l.Remote.Fetch(ctx, location)
		if err != nil {
			return nil, &ParseError{Path: location, Err: err}
		}
		defer func() { _ = os.Remove(local) }()
		path = local
	}

	t, err := ReadTable(ctx, path)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && path != location {
			pe.Path = location
		}
		return nil, err
	}
	return l.LoadTable(t, group), nil
}

// LoadTable applies group filtering, column detection and normalization to t.
func (l *Loader) LoadTable(t *Table, group string) *Result {
	log := l.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	cc := l.CountryCode
	if cc == "" {
		cc = phone.DefaultCountryCode
	}
	n := l.SampleSize
	if n <= 0 {
		n = defaultSampleSize
	}

	det := DetectPhoneColumn(t.Columns, t.Sample(n))
	res := &Result{Column: det.Column, Method: det.Method, Numbers: []phone.Number{}, Rejected: []RejectedEntry{}}
	if det.Method == DetectFallback {
		log.Warn("phone column not recognized; using first column", logx.String("column", det.Column))
	}

	rows := filterGroup(t, group)
	res.Total = len(rows)
	for _, r := range rows {
		l.add(res, r.Index+2, r.Get(det.Column), cc, log)
	}

	log.Info("contacts loaded",
		logx.String("column", res.Column),
		logx.String("method", string(res.Method)),
		logx.Int("rows", res.Total),
		logx.Int("valid", len(res.Numbers)),
		logx.Int("rejected", len(res.Rejected)),
		logx.Int("adjusted", len(res.Adjusted)),
	)
	return res
}

// LoadList normalizes numbers given directly, for example on the command
// line. Row is the 1-based position in raws.
func (l *Loader) LoadList(raws []string) *Result {
	log := l.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	cc := l.CountryCode
	if cc == "" {
		cc = phone.DefaultCountryCode
	}
	res := &Result{Numbers: []phone.Number{}, Rejected: []RejectedEntry{}, Total: len(raws)}
	for i, raw := range raws {
		l.add(res, i+1, raw, cc, log)
	}
	return res
}

// SplitList splits a comma, semicolon or newline separated list of numbers.
// Empty items are dropped.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' || r == '\r' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// add normalizes one value into res.
func (l *Loader) add(res *Result, line int, raw any, cc string, log logx.Logger) {
	num, rule, err := phone.Classify(raw, cc)
	if err != nil {
		reason := err.Error()
		var rej *phone.Rejection
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		res.Rejected = append(res.Rejected, RejectedEntry{Row: line, Raw: rawString(raw), Reason: reason})
		return
	}
	if rule.Ambiguous() {
		if l.Strict {
			res.Rejected = append(res.Rejected, RejectedEntry{
				Row:    line,
				Raw:    rawString(raw),
				Reason: fmt.Sprintf("ambiguous length (%s)", rule),
			})
			return
		}
		res.Adjusted = append(res.Adjusted, Adjustment{Row: line, Raw: rawString(raw), Number: num, Rule: rule.String()})
		log.Warn("phone number guessed from ambiguous length",
			logx.Int("row", line), logx.String("raw", rawString(raw)), logx.String("number", num.String()), logx.String("rule", rule.String()))
	}
	res.Numbers = append(res.Numbers, num)
}

func filterGroup(t *Table, group string) []Row {
	want := strings.TrimSpace(group)
	if want == "" || !t.HasColumn(GroupColumn) {
		return t.Rows
	}
	out := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		if strings.TrimSpace(rawString(r.Get(GroupColumn))) == want {
			out = append(out, r)
		}
	}
	return out
}

func rawString(v any) string {
	if isEmptyCell(v) {
		return ""
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
