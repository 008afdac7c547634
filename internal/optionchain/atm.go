package optionchain

import (
	"math"
	"sort"
)

// SortDescending returns a copy of records ordered by strike, highest first, with duplicate
// strikes collapsed to their first occurrence.
func SortDescending(records []StrikeRecord) []StrikeRecord {
	sorted := make([]StrikeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Strike > sorted[j].Strike })

	out := sorted[:0]
	for i, r := range sorted {
		if i > 0 && r.Strike == out[len(out)-1].Strike {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ATMIndex returns the index of the strike nearest spot in a strike-descending slice.
// Ties go to the earlier (higher) strike. With no spot the structural midpoint is used.
func ATMIndex(sorted []StrikeRecord, spot *float64) int {
	if len(sorted) == 0 {
		return -1
	}
	if spot == nil {
		return len(sorted) / 2
	}
	best := 0
	bestDist := math.Abs(sorted[0].Strike - *spot)
	for i := 1; i < len(sorted); i++ {
		if d := math.Abs(sorted[i].Strike - *spot); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// SelectWindow returns up to 2*radius+1 records, strike-descending. With centering the window
// spans [atm-radius, atm+radius] clamped to the record bounds and is not re-expanded on the
// other side when clamped. Without centering it is the highest strikes.
func SelectWindow(records []StrikeRecord, spot *float64, radius int, centering bool) DisplayWindow {
	return selectWindow(records, spot, radius, centering, false)
}

// SelectPaddedWindow is SelectWindow except that a window clamped at one edge is extended on the
// other edge to keep 2*radius+1 records when enough exist.
func SelectPaddedWindow(records []StrikeRecord, spot *float64, radius int, centering bool) DisplayWindow {
	return selectWindow(records, spot, radius, centering, true)
}

func selectWindow(records []StrikeRecord, spot *float64, radius int, centering, pad bool) DisplayWindow {
	if radius < 0 {
		radius = 0
	}
	sorted := SortDescending(records)
	win := DisplayWindow{VisibleRecords: []StrikeRecord{}}
	if len(sorted) == 0 {
		return win
	}

	atm := ATMIndex(sorted, spot)
	if spot != nil {
		center := sorted[atm].Strike
		win.CenterStrike = &center
	}

	size := 2*radius + 1
	if !centering {
		if size > len(sorted) {
			size = len(sorted)
		}
		win.VisibleRecords = sorted[:size]
		return win
	}

	lo, hi := atm-radius, atm+radius
	if pad {
		if lo < 0 {
			hi -= lo
			lo = 0
		}
		if hi > len(sorted)-1 {
			lo -= hi - (len(sorted) - 1)
			hi = len(sorted) - 1
		}
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(sorted)-1 {
		hi = len(sorted) - 1
	}
	win.VisibleRecords = sorted[lo : hi+1]
	return win
}
