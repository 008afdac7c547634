package controller

import "time"

// Deltas are percent changes over the history window; nil when unavailable.
type Deltas struct {
	CallOI     *float64 `json:"call_oi"`
	PutOI      *float64 `json:"put_oi"`
	CallChange *float64 `json:"call_change"`
	PutChange  *float64 `json:"put_change"`
}

// WindowRow is one visible strike.
type WindowRow struct {
	Strike     float64 `json:"strike"`
	CallOI     float64 `json:"call_oi"`
	CallChange float64 `json:"call_oi_change"`
	PutOI      float64 `json:"put_oi"`
	PutChange  float64 `json:"put_oi_change"`
	ATM        bool    `json:"atm"`
	Deltas     Deltas  `json:"deltas"`
}

// WindowView is the last drawn window.
type WindowView struct {
	Phase          string      `json:"phase"`
	Radius         int         `json:"radius"`
	Centering      bool        `json:"centering"`
	CenterStrike   *float64    `json:"center_strike"`
	SavedAt        time.Time   `json:"saved_at"`
	DeltaWindowSec int         `json:"delta_window_sec"`
	Rows           []WindowRow `json:"rows"`
}

type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Strikes   int       `json:"strikes"`
}

type HistoryView struct {
	WindowSec int            `json:"window_sec"`
	Snapshots []HistoryEntry `json:"snapshots"`
}

type DeltaView struct {
	Strike    float64  `json:"strike"`
	Metric    string   `json:"metric"`
	WindowSec int      `json:"window_sec"`
	Percent   *float64 `json:"percent"`
}
