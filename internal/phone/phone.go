// Package phone turns heterogeneous raw contact values into canonical
// 12-digit recipient numbers.
//
// Normalization is deterministic and never panics: every input maps either
// to a Number or to a *Rejection carrying a human readable reason.
package phone

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCountryCode is the prefix used when the configuration does not set one.
const DefaultCountryCode = "91"

const (
	subscriberLen = 10
	canonicalLen  = 12
)

// Rejection reasons.
const (
	ReasonEmpty   = "empty value"
	ReasonInvalid = "invalid format"
)

// Number is a canonical recipient: country code followed by a 10 digit subscriber number.
type Number string

func (n Number) String() string { return string(n) }

// E164 renders the number with a leading '+', the form expected by messaging backends.
func (n Number) E164() string { return "+" + string(n) }

// Rejection is returned for raw values that cannot be turned into a Number.
type Rejection struct {
	Raw    string
	Reason string
}

func (r *Rejection) Error() string {
	if r.Raw == "" {
		return "phone: " + r.Reason
	}
	return fmt.Sprintf("phone: %s: %q", r.Reason, r.Raw)
}

// Rule identifies which length class produced a Number.
type Rule int

const (
	RuleNone Rule = iota
	// RuleLocal: exactly ten digits, country code prepended.
	RuleLocal
	// RulePadded: fewer than ten digits, left-padded with zeros.
	RulePadded
	// RuleTruncated: more than twelve digits, only the last twelve kept.
	RuleTruncated
	// RuleTrunkZero: eleven digits with a leading trunk '0'.
	RuleTrunkZero
	// RuleReprefixed: twelve digits with a foreign prefix, replaced by the country code.
	RuleReprefixed
	// RuleCanonical: already canonical.
	RuleCanonical
)

var ruleNames = map[Rule]string{
	RuleNone:       "none",
	RuleLocal:      "local",
	RulePadded:     "padded",
	RuleTruncated:  "truncated",
	RuleTrunkZero:  "trunk_zero",
	RuleReprefixed: "reprefixed",
	RuleCanonical:  "canonical",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		return s
	}
	return "rule(" + strconv.Itoa(int(r)) + ")"
}

// Ambiguous reports whether the rule guesses at the subscriber number.
// Such results are valid-shaped but may not be the number the sender meant.
func (r Rule) Ambiguous() bool {
	switch r {
	case RulePadded, RuleTruncated, RuleReprefixed:
		return true
	}
	return false
}

// ValidCountryCode reports whether cc is exactly two ASCII digits.
func ValidCountryCode(cc string) bool {
	return len(cc) == canonicalLen-subscriberLen && isDigits(cc)
}

// Normalize converts raw into a canonical Number.
// The error, when non-nil, is always a *Rejection.
func Normalize(raw any, countryCode string) (Number, error) {
	n, _, err := Classify(raw, countryCode)
	return n, err
}

// Classify is Normalize that also reports the rule that produced the result.
func Classify(raw any, countryCode string) (Number, Rule, error) {
	s, ok := render(raw)
	if !ok {
		return "", RuleNone, &Rejection{Raw: s, Reason: ReasonEmpty}
	}
	digits := digitsOnly(s)
	if digits == "" {
		return "", RuleNone, &Rejection{Raw: s, Reason: ReasonInvalid}
	}

	var (
		out  string
		rule Rule
	)
	switch l := len(digits); {
	case l <= subscriberLen:
		rule = RuleLocal
		if l < subscriberLen {
			rule = RulePadded
		}
		out = countryCode + strings.Repeat("0", subscriberLen-l) + digits
	case l > canonicalLen:
		out, rule = digits[l-canonicalLen:], RuleTruncated
	case l == canonicalLen-1 && digits[0] == '0':
		out, rule = countryCode+digits[1:], RuleTrunkZero
	case l == canonicalLen && !strings.HasPrefix(digits, countryCode):
		out, rule = countryCode+digits[l-subscriberLen:], RuleReprefixed
	default:
		out, rule = digits, RuleCanonical
	}

	if len(out) != canonicalLen || !isDigits(out) || !strings.HasPrefix(out, countryCode) || countryCode == "" {
		return "", RuleNone, &Rejection{Raw: s, Reason: ReasonInvalid}
	}
	return Number(out), rule, nil
}

// render stringifies raw. ok is false for values that count as empty.
func render(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, strings.TrimSpace(v) != ""
	case []byte:
		return string(v), strings.TrimSpace(string(v)) != ""
	case Number:
		return string(v), v != ""
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case fmt.Stringer:
		s := v.String()
		return s, strings.TrimSpace(s) != ""
	default:
		s := fmt.Sprint(v)
		return s, strings.TrimSpace(s) != ""
	}
}

// formatFloat renders spreadsheet numbers such as 9.19322612069e+11 without
// exponent or decimals. NaN is how missing cells usually arrive.
func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) {
		return "", false
	}
	if math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return strconv.FormatFloat(f, 'f', 0, 64), true
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
