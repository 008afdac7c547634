package optionchain

import "errors"

var (
	// ErrTableNotFound means no ready option-chain table was found within the retry budget.
	ErrTableNotFound = errors.New("option chain table not found")
	// ErrColumnMappingFailed means neither header heuristics nor the known schema fit the table.
	ErrColumnMappingFailed = errors.New("table layout not recognized")
	// ErrEmptyParse means a parse pass produced zero valid rows.
	ErrEmptyParse = errors.New("no valid option chain rows")
)

// Unresolved marks a column index that could not be discovered.
const Unresolved = -1

// StrikeRecord is one parsed option chain row.
type StrikeRecord struct {
	Strike                 float64 `json:"strike"`
	CallOpenInterest       float64 `json:"call_oi"`
	CallOpenInterestChange float64 `json:"call_oi_change"`
	PutOpenInterest        float64 `json:"put_oi"`
	PutOpenInterestChange  float64 `json:"put_oi_change"`
}

// ColumnMapping holds the column indices used to read a table's rows.
type ColumnMapping struct {
	StrikeColumnIndex           int  `json:"strike"`
	CallOpenInterestColumnIndex int  `json:"call_oi"`
	CallChangeColumnIndex       int  `json:"call_change"`
	PutOpenInterestColumnIndex  int  `json:"put_oi"`
	PutChangeColumnIndex        int  `json:"put_change"`
	Positional                  bool `json:"positional"`
	// MinCells is the shortest row accepted; zero accepts any row wide enough for the indices.
	MinCells int `json:"min_cells,omitempty"`
}

// maxIndex returns the largest mapped column index.
func (m ColumnMapping) maxIndex() int {
	idx := m.StrikeColumnIndex
	for _, v := range []int{m.CallOpenInterestColumnIndex, m.CallChangeColumnIndex, m.PutOpenInterestColumnIndex, m.PutChangeColumnIndex} {
		if v > idx {
			idx = v
		}
	}
	return idx
}

// TableCandidate is a table-like element read from the page.
// ID is a stable identity token for the element; it changes when the host replaces the table.
type TableCandidate struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	HeaderRows  [][]string `json:"header_rows"`
	Rows        [][]string `json:"rows"`
	Fingerprint string     `json:"fingerprint"`
}

// DisplayWindow is the visible slice of strikes.
type DisplayWindow struct {
	CenterStrike   *float64       `json:"center_strike"`
	VisibleRecords []StrikeRecord `json:"visible_records"`
}

// Empty reports whether the window has no records.
func (w DisplayWindow) Empty() bool {
	return len(w.VisibleRecords) == 0
}
