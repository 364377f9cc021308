package transform

import (
	"fmt"
	"math"

	"github.com/danthegoodman1/etlpipe/table"
	"github.com/shopspring/decimal"
)

type UnitConversion struct {
	Source string
	Target string
	Factor float64
}

// DefaultConversions derive metric columns from imperial ones, in this order.
var DefaultConversions = []UnitConversion{
	{Source: "height", Target: "height_m", Factor: 0.0254},   // inches -> meters
	{Source: "weight", Target: "weight_kg", Factor: 0.453592}, // pounds -> kilograms
}

// Normalize applies DefaultConversions to t in place and returns it.
func Normalize(t *table.Table) (*table.Table, error) {
	return NormalizeWith(t, DefaultConversions)
}

// NormalizeWith adds Target = round(Source * Factor, 2) for each conversion whose Source column
// exists. Null sources give null targets. A missing Source column is not an error.
func NormalizeWith(t *table.Table, conversions []UnitConversion) (*table.Table, error) {
	for _, conv := range conversions {
		if !t.HasColumn(conv.Source) {
			continue
		}

		derived := make([]any, len(t.Rows))
		for i, row := range t.Rows {
			raw := row[conv.Source]
			if raw == nil {
				continue
			}
			f, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("%w: column %q row %d has non-numeric value %v", ErrMalformedInput, conv.Source, i, raw)
			}
			converted := f * conv.Factor
			if math.IsInf(converted, 0) || math.IsNaN(converted) {
				return nil, fmt.Errorf("%w: column %q row %d converts to non-finite value %v", ErrMalformedInput, conv.Source, i, raw)
			}
			derived[i] = round2(converted)
		}

		t.AddColumn(conv.Target)
		for i, row := range t.Rows {
			row[conv.Target] = derived[i]
		}
	}
	return t, nil
}

func round2(f float64) float64 {
	r, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return r
}
