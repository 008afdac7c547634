package optionchain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseRows converts body rows into strike records using the mapping.
// Rows without a positive finite strike are dropped; other unparsable cells read as zero.
func ParseRows(rows [][]string, mapping ColumnMapping) []StrikeRecord {
	need := mapping.maxIndex() + 1
	if mapping.MinCells > need {
		need = mapping.MinCells
	}

	out := make([]StrikeRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) < need {
			continue
		}
		strike, ok := ParseNumber(row[mapping.StrikeColumnIndex])
		if !ok || strike <= 0 || math.IsInf(strike, 0) || math.IsNaN(strike) {
			continue
		}
		out = append(out, StrikeRecord{
			Strike:                 strike,
			CallOpenInterest:       nonNegative(cellNumber(row, mapping.CallOpenInterestColumnIndex)),
			CallOpenInterestChange: cellNumber(row, mapping.CallChangeColumnIndex),
			PutOpenInterest:        nonNegative(cellNumber(row, mapping.PutOpenInterestColumnIndex)),
			PutOpenInterestChange:  cellNumber(row, mapping.PutChangeColumnIndex),
		})
	}
	return out
}

func cellNumber(row []string, idx int) float64 {
	if idx < 0 || idx >= len(row) {
		return 0
	}
	v, _ := ParseNumber(row[idx])
	return v
}

// Open interest cannot go below zero; a negative reading is scrape noise.
func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// ParseNumber reads a locale-formatted number such as "1,234", "-56" or "24,500.00".
// Thousands separators and any other non-numeric characters are dropped; a sign is kept only
// when it leads the digits.
func ParseNumber(text string) (float64, bool) {
	var b strings.Builder
	digits := false
	signed := false
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			digits = true
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		case (r == '-' || r == '−' || r == '+') && !digits && !signed:
			signed = true
			if r != '+' {
				b.WriteRune('-')
			}
		}
	}
	if !digits {
		return 0, false
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}
