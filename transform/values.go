package transform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/danthegoodman1/etlpipe/table"
)

// Pre-compiled regex for numeric cells, so "0x10", "Inf" and "1_000" stay text
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// naValues are the tokens read as null in text formats.
var naValues = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// textCell maps a raw text cell to nil when it is an NA token.
func textCell(s string) any {
	if _, isNA := naValues[s]; isNA {
		return nil
	}
	return s
}

// parseNumber accepts numeric text that also fits in a finite float64, so "1e999" stays text.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// inferNumericColumns converts every column whose non-null cells are all numeric strings to float64.
// Columns with any non-numeric cell keep all their cells as strings.
func inferNumericColumns(t *table.Table) {
	for _, col := range t.Columns {
		numeric := true
		for _, row := range t.Rows {
			s, isStr := row[col].(string)
			if !isStr {
				continue
			}
			if _, ok := parseNumber(s); !ok {
				numeric = false
				break
			}
		}
		if !numeric {
			continue
		}
		for _, row := range t.Rows {
			if s, isStr := row[col].(string); isStr {
				f, _ := parseNumber(s)
				row[col] = f
			}
		}
	}
}

// toFloat coerces a cell to a number for arithmetic. ok is false for values that are not numeric.
func toFloat(v any) (f float64, ok bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		return parseNumber(n)
	default:
		return 0, false
	}
}
