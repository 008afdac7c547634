package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
)

// Metric names one of the four tracked per-strike values.
type Metric int

const (
	CallOI Metric = iota
	PutOI
	CallChange
	PutChange
)

func (m Metric) String() string {
	switch m {
	case CallOI:
		return "call_oi"
	case PutOI:
		return "put_oi"
	case CallChange:
		return "call_change"
	case PutChange:
		return "put_change"
	default:
		return "metric(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMetric accepts the names produced by Metric.String.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call_oi":
		return CallOI, nil
	case "put_oi":
		return PutOI, nil
	case "call_change":
		return CallChange, nil
	case "put_change":
		return PutChange, nil
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

// Values are the tracked metrics of one strike at one instant.
type Values struct {
	CallOI     float64 `json:"call_oi"`
	PutOI      float64 `json:"put_oi"`
	CallChange float64 `json:"call_change"`
	PutChange  float64 `json:"put_change"`
}

func (v Values) Get(m Metric) float64 {
	switch m {
	case CallOI:
		return v.CallOI
	case PutOI:
		return v.PutOI
	case CallChange:
		return v.CallChange
	case PutChange:
		return v.PutChange
	}
	return 0
}

// Snapshot is a timestamped strike -> values mapping. Strikes are keyed by StrikeKey so the
// snapshot round-trips through JSON.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Values    map[string]Values `json:"values"`
}

// StrikeKey is the canonical map key for a strike, e.g. "24000" or "24012.5".
func StrikeKey(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

// ValuesFromRecords builds the current values map from parsed records.
func ValuesFromRecords(records []optionchain.StrikeRecord) map[string]Values {
	out := make(map[string]Values, len(records))
	for _, r := range records {
		out[StrikeKey(r.Strike)] = Values{
			CallOI:     r.CallOpenInterest,
			PutOI:      r.PutOpenInterest,
			CallChange: r.CallOpenInterestChange,
			PutChange:  r.PutOpenInterestChange,
		}
	}
	return out
}
