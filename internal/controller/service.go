// Package controller is the API-facing service: it validates requests, turns them into
// scheduler events and shapes scheduler and history state into responses.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/oi_overlay/internal/cdpcontrol"
	"github.com/dgnsrekt/oi_overlay/internal/history"
	"github.com/dgnsrekt/oi_overlay/internal/scheduler"
	"github.com/dgnsrekt/oi_overlay/internal/snapshot"
)

// Engine is the scheduler surface the service drives.
type Engine interface {
	Do(ctx context.Context, ev scheduler.Event) (scheduler.State, error)
	Submit(ev scheduler.Event) bool
	State() scheduler.State
	Tracker() *history.Tracker
	DeltaWindow() time.Duration
}

// Page is the browser surface used for screenshots.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
}

// Service wraps overlay control operations.
type Service struct {
	engine Engine
	page   Page
	snaps  *snapshot.Store
	now    func() time.Time
}

func NewService(engine Engine, page Page, snaps *snapshot.Store) *Service {
	return &Service{engine: engine, page: page, snaps: snaps, now: time.Now}
}

func validation(msg string) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: msg}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return validation(fieldName + " is required")
	}
	return nil
}

// do applies ev on the scheduler loop and maps queue pressure to a coded error.
func (s *Service) do(ctx context.Context, ev scheduler.Event) (scheduler.State, error) {
	st, err := s.engine.Do(ctx, ev)
	if errors.Is(err, scheduler.ErrQueueFull) {
		return st, &cdpcontrol.CodedError{Code: cdpcontrol.CodeBusy, Message: "overlay is busy, retry shortly", Cause: err}
	}
	if err != nil {
		return st, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalTimeout, Message: "request abandoned before the overlay applied it", Cause: err}
	}
	return st, nil
}

func (s *Service) State(ctx context.Context) (scheduler.State, error) {
	st := s.engine.State()
	st.Window = nil
	return st, nil
}

// AdjustRadius moves the radius by delta. The scheduler clamps the result to 1..max.
func (s *Service) AdjustRadius(ctx context.Context, delta int) (scheduler.State, error) {
	if delta == 0 {
		return scheduler.State{}, validation("delta must be non-zero")
	}
	maxRadius := s.engine.State().MaxRadius
	if maxRadius > 0 && (delta > maxRadius || delta < -maxRadius) {
		return scheduler.State{}, validation(fmt.Sprintf("delta must be within ±%d", maxRadius))
	}
	return s.do(ctx, scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlRadius, Delta: delta})
}

func (s *Service) SetCentering(ctx context.Context, enabled bool) (scheduler.State, error) {
	return s.do(ctx, scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlCentering, Enabled: enabled})
}

// Refresh behaves like a click on the host page's refresh control.
func (s *Service) Refresh(ctx context.Context) (scheduler.State, error) {
	return s.do(ctx, scheduler.Event{Kind: scheduler.EventRefresh})
}

func (s *Service) ClosePanel(ctx context.Context) (scheduler.State, error) {
	return s.do(ctx, scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlClose})
}

func (s *Service) OpenPanel(ctx context.Context) (scheduler.State, error) {
	return s.do(ctx, scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlOpen})
}

// Window returns the last drawn window with per-strike percent deltas.
func (s *Service) Window(ctx context.Context) (WindowView, error) {
	st := s.engine.State()
	if st.Window == nil {
		return WindowView{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: "no window has been drawn yet"}
	}
	tracker := s.engine.Tracker()
	lookback := s.engine.DeltaWindow()

	delta := func(strike float64, m history.Metric) *float64 {
		if tracker == nil {
			return nil
		}
		if v, ok := tracker.PercentChangeSince(strike, m, lookback); ok {
			return &v
		}
		return nil
	}

	view := WindowView{
		Phase:          string(st.Phase),
		Radius:         st.Radius,
		Centering:      st.Centering,
		CenterStrike:   st.Window.CenterStrike,
		SavedAt:        st.WindowSaved,
		DeltaWindowSec: int(lookback / time.Second),
		Rows:           make([]WindowRow, 0, len(st.Window.VisibleRecords)),
	}
	for _, r := range st.Window.VisibleRecords {
		view.Rows = append(view.Rows, WindowRow{
			Strike:     r.Strike,
			CallOI:     r.CallOpenInterest,
			CallChange: r.CallOpenInterestChange,
			PutOI:      r.PutOpenInterest,
			PutChange:  r.PutOpenInterestChange,
			ATM:        st.Window.CenterStrike != nil && *st.Window.CenterStrike == r.Strike,
			Deltas: Deltas{
				CallOI:     delta(r.Strike, history.CallOI),
				PutOI:      delta(r.Strike, history.PutOI),
				CallChange: delta(r.Strike, history.CallChange),
				PutChange:  delta(r.Strike, history.PutChange),
			},
		})
	}
	return view, nil
}

// History summarizes the retained snapshots, oldest first.
func (s *Service) History(ctx context.Context) (HistoryView, error) {
	tracker := s.engine.Tracker()
	view := HistoryView{Snapshots: []HistoryEntry{}}
	if tracker == nil {
		return view, nil
	}
	view.WindowSec = int(tracker.Window() / time.Second)
	for _, snap := range tracker.Snapshots() {
		view.Snapshots = append(view.Snapshots, HistoryEntry{Timestamp: snap.Timestamp, Strikes: len(snap.Values)})
	}
	return view, nil
}

// Delta reports the percent change of one strike metric over a lookback.
func (s *Service) Delta(ctx context.Context, strike float64, metric string, windowSec int) (DeltaView, error) {
	if err := s.requireNonEmpty(metric, "metric"); err != nil {
		return DeltaView{}, err
	}
	m, err := history.ParseMetric(metric)
	if err != nil {
		return DeltaView{}, validation(err.Error())
	}
	if strike <= 0 {
		return DeltaView{}, validation("strike must be positive")
	}
	if windowSec < 0 {
		return DeltaView{}, validation("window_sec must not be negative")
	}
	lookback := s.engine.DeltaWindow()
	if windowSec > 0 {
		lookback = time.Duration(windowSec) * time.Second
	}
	out := DeltaView{Strike: strike, Metric: m.String(), WindowSec: int(lookback / time.Second)}
	if tracker := s.engine.Tracker(); tracker != nil {
		if v, ok := tracker.PercentChangeSince(strike, m, lookback); ok {
			out.Percent = &v
		}
	}
	return out, nil
}

// TakeSnapshot captures the page with the overlay and stores it with the current state.
func (s *Service) TakeSnapshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error) {
	if s.page == nil || s.snaps == nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "snapshots are not configured"}
	}
	img, err := s.page.Screenshot(ctx)
	if err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	st := s.engine.State()
	meta := snapshot.SnapshotMeta{
		ID:        uuid.New().String(),
		PageURL:   s.page.URL(),
		Format:    "png",
		CreatedAt: s.now().UTC(),
		Phase:     string(st.Phase),
		Radius:    st.Radius,
		Centering: st.Centering,
		Notes:     strings.TrimSpace(notes),
	}
	if st.Window != nil {
		meta.CenterStrike = st.Window.CenterStrike
		meta.Records = len(st.Window.VisibleRecords)
	}
	if err := s.snaps.Save(meta, img); err != nil {
		return snapshot.SnapshotMeta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: fmt.Sprintf("save snapshot: %v", err)}
	}
	meta.SizeBytes = len(img)
	return meta, nil
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.SnapshotMeta, error) {
	if s.snaps == nil {
		return []snapshot.SnapshotMeta{}, nil
	}
	return s.snaps.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.SnapshotMeta, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	if s.snaps == nil {
		return snapshot.SnapshotMeta{}, snapshotErr(snapshot.ErrNotFound)
	}
	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.SnapshotMeta{}, snapshotErr(err)
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return nil, "", err
	}
	if s.snaps == nil {
		return nil, "", snapshotErr(snapshot.ErrNotFound)
	}
	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", snapshotErr(err)
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}
	if s.snaps == nil {
		return snapshotErr(snapshot.ErrNotFound)
	}
	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return snapshotErr(err)
	}
	return nil
}

func snapshotErr(err error) error {
	if errors.Is(err, snapshot.ErrNotFound) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: err.Error()}
	}
	if strings.HasPrefix(err.Error(), "invalid snapshot id") {
		return validation(err.Error())
	}
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: err.Error()}
}

// HandlePageEvent turns a page hook notification into a scheduler event.
// It never blocks; a full queue drops the event.
func (s *Service) HandlePageEvent(ev cdpcontrol.PageEvent) bool {
	sev, ok := toSchedulerEvent(ev)
	if !ok {
		slog.Debug("ignoring page event", "kind", ev.Kind, "control", ev.Control)
		return false
	}
	return s.engine.Submit(sev)
}

// Pump forwards page events until ctx is done or events is closed.
func (s *Service) Pump(ctx context.Context, events <-chan cdpcontrol.PageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandlePageEvent(ev)
		}
	}
}

func toSchedulerEvent(ev cdpcontrol.PageEvent) (scheduler.Event, bool) {
	switch ev.Kind {
	case cdpcontrol.EventMutation:
		return scheduler.Event{Kind: scheduler.EventMutation}, true
	case cdpcontrol.EventRefresh:
		return scheduler.Event{Kind: scheduler.EventRefresh}, true
	case cdpcontrol.EventNavigate:
		return scheduler.Event{Kind: scheduler.EventNavigate, FullNavigation: ev.Full}, true
	case cdpcontrol.EventControl:
		switch scheduler.Control(ev.Control) {
		case scheduler.ControlRadius:
			if ev.Delta == 0 {
				return scheduler.Event{}, false
			}
			return scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlRadius, Delta: ev.Delta}, true
		case scheduler.ControlCentering:
			return scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.ControlCentering, Enabled: ev.Enabled}, true
		case scheduler.ControlToggle, scheduler.ControlClose:
			return scheduler.Event{Kind: scheduler.EventControl, Control: scheduler.Control(ev.Control)}, true
		}
	}
	return scheduler.Event{}, false
}

// Tick asks the scheduler for a safety-net redraw.
func (s *Service) Tick() bool {
	return s.engine.Submit(scheduler.Event{Kind: scheduler.EventTick})
}

// Maintain prunes expired history and old snapshots.
func (s *Service) Maintain(ctx context.Context, snapshotMaxAge time.Duration) {
	if tracker := s.engine.Tracker(); tracker != nil {
		n, err := tracker.Prune(ctx)
		if err != nil {
			slog.Warn("history prune failed", "error", err)
		} else if n > 0 {
			slog.Debug("history pruned", "removed", n, "remaining", tracker.Len())
		}
	}
	if s.snaps != nil && snapshotMaxAge > 0 {
		n, err := s.snaps.Prune(snapshotMaxAge, s.now())
		if err != nil {
			slog.Warn("snapshot prune failed", "error", err)
		} else if n > 0 {
			slog.Info("snapshots pruned", "removed", n)
		}
	}
}
