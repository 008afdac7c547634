// Package render turns a display window into the overlay panel's content HTML.
// It has no DOM or browser dependency; the page side replaces the panel body wholesale.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var panelTmpl = template.Must(template.New("panel.tmpl").Funcs(template.FuncMap{
	"num":     formatNumber,
	"pct":     formatPercent,
	"width":   formatWidth,
	"strike":  formatStrike,
	"clock":   func(t time.Time) string { return t.Format("15:04:05") },
	"hasTime": func(t time.Time) bool { return !t.IsZero() },
	"label":   barLabel,
}).ParseFS(templateFS, "templates/*.tmpl"))

// Status selects what the panel body shows.
type Status string

const (
	StatusLive               Status = "live"
	StatusStale              Status = "stale"
	StatusWaiting            Status = "waiting"
	StatusNoData             Status = "no_data"
	StatusLayoutUnrecognized Status = "layout_unrecognized"
)

// MinBarPercent keeps non-zero bars visible next to a dominant strike.
const MinBarPercent = 3.0

// Bar is one horizontal bar. Width is a percentage of the panel's bar track.
type Bar struct {
	Kind     string // call_oi, put_oi, call_change, put_change
	Value    float64
	Width    float64
	Negative bool
	// Delta is the percent change over the history window; nil renders as a dash.
	Delta *float64
}

var barLabels = map[string]string{
	"call_oi":     "Call OI",
	"put_oi":      "Put OI",
	"call_change": "Call Δ",
	"put_change":  "Put Δ",
}

func barLabel(kind string) string {
	if l, ok := barLabels[kind]; ok {
		return l
	}
	return kind
}

// Row is one strike in the panel.
type Row struct {
	Strike float64
	ATM    bool
	Bars   []Bar
}

// View is everything the panel body needs.
type View struct {
	Status       Status
	Radius       int
	Centering    bool
	CenterStrike *float64
	Rows         []Row
	Message      string
	UpdatedAt    time.Time
}

// DeltaFunc returns the percent change of a metric for a strike, if known.
type DeltaFunc func(strike float64, kind string) (float64, bool)

// BuildView lays out a window as bars scaled to the largest absolute value on screen.
func BuildView(win optionchain.DisplayWindow, radius int, centering bool, deltas DeltaFunc) View {
	v := View{
		Status:       StatusLive,
		Radius:       radius,
		Centering:    centering,
		CenterStrike: win.CenterStrike,
	}
	if win.Empty() {
		v.Status = StatusNoData
		return v
	}

	peak := 0.0
	for _, r := range win.VisibleRecords {
		for _, x := range []float64{r.CallOpenInterest, r.PutOpenInterest, r.CallOpenInterestChange, r.PutOpenInterestChange} {
			if a := math.Abs(x); a > peak {
				peak = a
			}
		}
	}

	for _, r := range win.VisibleRecords {
		row := Row{Strike: r.Strike, ATM: win.CenterStrike != nil && *win.CenterStrike == r.Strike}
		for _, b := range []struct {
			kind  string
			value float64
		}{
			{"call_oi", r.CallOpenInterest},
			{"put_oi", r.PutOpenInterest},
			{"call_change", r.CallOpenInterestChange},
			{"put_change", r.PutOpenInterestChange},
		} {
			bar := Bar{Kind: b.kind, Value: b.value, Width: BarWidth(b.value, peak), Negative: b.value < 0}
			if deltas != nil {
				if d, ok := deltas(r.Strike, b.kind); ok {
					d := d
					bar.Delta = &d
				}
			}
			row.Bars = append(row.Bars, bar)
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

// BarWidth scales |v| against peak into [MinBarPercent, 100]. Zero values and an all-zero
// window get no bar.
func BarWidth(v, peak float64) float64 {
	if peak <= 0 || v == 0 {
		return 0
	}
	w := math.Abs(v) / peak * 100
	if w < MinBarPercent {
		w = MinBarPercent
	}
	return math.Round(w*10) / 10
}

// Placeholder builds a body-only view for the non-live states.
func Placeholder(status Status, message string) View {
	return View{Status: status, Message: message}
}

// Panel renders the panel body.
func Panel(v View) (string, error) {
	if v.Message == "" {
		v.Message = defaultMessage(v.Status)
	}
	var buf bytes.Buffer
	if err := panelTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render panel: %w", err)
	}
	return buf.String(), nil
}

func defaultMessage(s Status) string {
	switch s {
	case StatusStale:
		return "Waiting for the option chain to refresh; showing last data."
	case StatusWaiting:
		return "Waiting for the option chain table…"
	case StatusNoData:
		return "No data yet"
	case StatusLayoutUnrecognized:
		return "Table layout not recognized"
	}
	return ""
}

func formatNumber(v float64) string {
	return decimal.NewFromFloat(v).StringFixedBank(0)
}

func formatStrike(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPercent(p *float64) string {
	if p == nil {
		return "—"
	}
	d := decimal.NewFromFloat(*p).Round(1)
	if d.IsPositive() {
		return "+" + d.StringFixed(1) + "%"
	}
	return d.StringFixed(1) + "%"
}

func formatWidth(w float64) template.CSS {
	return template.CSS(strconv.FormatFloat(w, 'f', 1, 64) + "%")
}
