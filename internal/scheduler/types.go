package scheduler

import (
	"context"
	"time"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
)

// Phase is the scheduler state.
type Phase string

const (
	PhaseUninitialized   Phase = "UNINITIALIZED"
	PhaseObserving       Phase = "OBSERVING"
	PhaseAwaitingRefresh Phase = "AWAITING_REFRESH"
	PhaseRedrawing       Phase = "REDRAWING"
	PhaseClosed          Phase = "CLOSED"
)

// Page is the live option chain page as the scheduler sees it.
type Page interface {
	// InstallHooks installs the panel frame, the mutation observer and the refresh click
	// listener. It must be idempotent per document.
	InstallHooks(ctx context.Context) error
	// ProbeTables returns every table on the page with stable identities.
	ProbeTables(ctx context.Context) ([]optionchain.TableCandidate, error)
	// ReadSpot reads the underlying value; nil when the page does not show one.
	ReadSpot(ctx context.Context) (*float64, error)
	// Paint replaces the panel body.
	Paint(ctx context.Context, html string) error
	// RemovePanel removes the panel and the page hooks.
	RemovePanel(ctx context.Context) error
	// URL identifies the page for alerts and store scoping.
	URL() string
}

// Store persists the last good window. store.KV satisfies it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Notifier receives the one-shot table-not-found alert.
type Notifier interface {
	TableNotFound(ctx context.Context, pageURL string, attempts int) error
}

// Publisher receives a JSON payload after every pass.
type Publisher interface {
	PublishJSON(eventType, id string, payload any) error
}

// EventKind classifies scheduler input.
type EventKind string

const (
	EventMutation EventKind = "mutation"
	EventRefresh  EventKind = "refresh"
	EventControl  EventKind = "control"
	EventNavigate EventKind = "navigate"
	EventTick     EventKind = "tick"
)

// Control is a user adjustment carried by an EventControl.
type Control string

const (
	ControlRadius    Control = "radius"
	ControlCentering Control = "centering"
	ControlToggle    Control = "toggle_centering"
	ControlClose     Control = "close"
	ControlOpen      Control = "open"
)

// Event is one input to the loop.
type Event struct {
	Kind    EventKind
	Control Control
	// Delta adjusts the radius for ControlRadius.
	Delta int
	// Enabled sets centering for ControlCentering.
	Enabled bool
	// FullNavigation is true when the document was replaced, not just its URL.
	FullNavigation bool

	reply chan State
}

// Config tunes timing and display defaults.
type Config struct {
	Debounce      time.Duration
	RefreshSettle time.Duration
	LockRelease   time.Duration
	Retry         optionchain.RetryPolicy

	Radius       int
	MaxRadius    int
	Centering    bool
	SymmetricPad bool

	// DeltaWindow is the lookback for percent deltas shown on the bars.
	DeltaWindow time.Duration
	// WindowKey is the store key for the last good window.
	WindowKey string
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Debounce < 250*time.Millisecond {
		c.Debounce = 250 * time.Millisecond
	}
	if c.Debounce > 500*time.Millisecond {
		c.Debounce = 500 * time.Millisecond
	}
	if c.RefreshSettle <= 0 {
		c.RefreshSettle = 1500 * time.Millisecond
	}
	if c.LockRelease <= 0 {
		c.LockRelease = 100 * time.Millisecond
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = 40
	}
	if c.Radius < 1 {
		c.Radius = 5
	}
	if c.Radius > c.MaxRadius {
		c.Radius = c.MaxRadius
	}
	if c.DeltaWindow <= 0 {
		c.DeltaWindow = 5 * time.Minute
	}
	if c.WindowKey == "" {
		c.WindowKey = "last_window"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// State is the RenderState summary exposed to the API.
type State struct {
	Phase        Phase                      `json:"phase"`
	Radius       int                        `json:"radius"`
	MaxRadius    int                        `json:"max_radius"`
	Centering    bool                       `json:"centering"`
	InFlight     bool                       `json:"in_flight"`
	TableID      string                     `json:"table_id,omitempty"`
	Mapping      *optionchain.ColumnMapping `json:"mapping,omitempty"`
	Spot         *float64                   `json:"spot,omitempty"`
	LastPass     *PassSummary               `json:"last_pass,omitempty"`
	HistorySize  int                        `json:"history_size"`
	Window       *optionchain.DisplayWindow `json:"window,omitempty"`
	WindowSaved  time.Time                  `json:"window_saved_at,omitempty"`
	Coalesced    int64                      `json:"coalesced"`
	DroppedQueue int64                      `json:"dropped_events"`
}

// PassSummary describes the most recent redraw pass.
type PassSummary struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Records    int       `json:"records"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// savedWindow is the persisted last good window.
type savedWindow struct {
	Window  optionchain.DisplayWindow `json:"window"`
	SavedAt time.Time                 `json:"saved_at"`
}
