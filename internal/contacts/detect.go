package contacts

import (
	"regexp"
	"strings"
)

// DetectMethod names the rule that picked the phone column.
type DetectMethod string

const (
	DetectSynonym  DetectMethod = "synonym"
	DetectNumeric  DetectMethod = "numeric"
	DetectFallback DetectMethod = "fallback"
)

// Detection is the result of DetectPhoneColumn.
// A DetectFallback result is a guess and should be surfaced to the operator.
type Detection struct {
	Column string
	Method DetectMethod
}

// phoneHeaders holds normalized header names that always mean "phone number".
var phoneHeaders = map[string]struct{}{
	"phone":           {},
	"phone_number":    {},
	"phonenumber":     {},
	"phone_no":        {},
	"mobile":          {},
	"mobile_number":   {},
	"mobile_no":       {},
	"contact":         {},
	"contact_number":  {},
	"contact_no":      {},
	"number":          {},
	"tel":             {},
	"telephone":       {},
	"cell":            {},
	"cellphone":       {},
	"cell_phone":      {},
	"mob":             {},
	"mob_no":          {},
	"whatsapp":        {},
	"whatsapp_number": {},
}

var (
	digitsPattern     = regexp.MustCompile(`^\+?\d+$`)
	scientificPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?[eE][+-]?\d+$`)
	wholeFloatPattern = regexp.MustCompile(`^[+-]?\d+\.0+$`)
)

// DetectPhoneColumn picks the column that holds phone numbers.
//
// Priority: a known header name, then the first column whose non-empty
// samples are mostly numeric, then the first column.
func DetectPhoneColumn(columns []string, samples map[string][]any) Detection {
	if len(columns) == 0 {
		return Detection{}
	}
	for _, c := range columns {
		if _, ok := phoneHeaders[normalizeHeader(c)]; ok {
			return Detection{Column: c, Method: DetectSynonym}
		}
	}
	for _, c := range columns {
		if mostlyNumeric(samples[c]) {
			return Detection{Column: c, Method: DetectNumeric}
		}
	}
	return Detection{Column: columns[0], Method: DetectFallback}
}

func normalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

func mostlyNumeric(values []any) bool {
	var seen, numeric int
	for _, v := range values {
		if isEmptyCell(v) {
			continue
		}
		seen++
		if isNumericCell(v) {
			numeric++
		}
	}
	return seen > 0 && numeric*2 > seen
}

func isNumericCell(v any) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		s := strings.TrimSpace(x)
		return digitsPattern.MatchString(s) || scientificPattern.MatchString(s)
	}
	return false
}
