// Package scheduler decides when the overlay redraws. It owns the RenderState and runs every
// state change on one goroutine: page hooks, API controls and cron ticks only enqueue events.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/oi_overlay/internal/history"
	"github.com/dgnsrekt/oi_overlay/internal/metrics"
	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
	"github.com/dgnsrekt/oi_overlay/internal/render"
	"github.com/dgnsrekt/oi_overlay/internal/store"
)

var (
	ErrQueueFull      = errors.New("scheduler event queue full")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Deps are the collaborators of a Scheduler. Only Page and Tracker are required.
type Deps struct {
	Schema    optionchain.Schema
	Readiness optionchain.Readiness
	Tracker   *history.Tracker
	Store     Store
	Notifier  Notifier
	Publisher Publisher
	Metrics   *metrics.Metrics
}

type Scheduler struct {
	cfg      Config
	page     Page
	locator  *optionchain.Locator
	cache    *optionchain.MappingCache
	tracker  *history.Tracker
	store    Store
	notifier Notifier
	pub      Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	events  chan Event
	running atomic.Bool

	// Owned by the loop goroutine.
	phase          Phase
	radius         int
	centering      bool
	inFlight       bool
	pending        bool
	refreshReady   bool
	dirty          bool
	hooksInstalled bool
	lastFP         string
	refreshFP      string
	livePainted    bool
	lastRecords    int
	tableID        string
	mapping        *optionchain.ColumnMapping
	spot           *float64
	lastGood       *savedWindow
	lastPass       *PassSummary

	debounce    *time.Timer
	settle      *time.Timer
	lockRelease *time.Timer

	locate         *time.Timer
	locateAttempt  int
	locateInterval time.Duration
	locateErr      error

	mu    sync.RWMutex
	state State

	coalesced atomic.Int64
	dropped   atomic.Int64
}

// New builds a scheduler in the UNINITIALIZED phase.
func New(page Page, cfg Config, deps Deps) *Scheduler {
	cfg = cfg.withDefaults()
	if deps.Schema.Name == "" {
		deps.Schema = optionchain.DefaultSchema()
	}
	if deps.Tracker == nil {
		deps.Tracker = history.NewTracker(history.Config{}, nil)
	}
	s := &Scheduler{
		cfg:       cfg,
		page:      page,
		locator:   optionchain.NewLocator(deps.Schema, deps.Readiness),
		cache:     optionchain.NewMappingCache(optionchain.NewColumnMapper(deps.Schema)),
		tracker:   deps.Tracker,
		store:     deps.Store,
		notifier:  deps.Notifier,
		pub:       deps.Publisher,
		metrics:   deps.Metrics,
		now:       time.Now,
		newID:     uuid.NewString,
		events:    make(chan Event, cfg.QueueSize),
		phase:     PhaseUninitialized,
		radius:    cfg.Radius,
		centering: cfg.Centering,
	}
	s.metrics.SetRadius(s.radius)
	s.publishState()
	return s
}

// Run initializes the overlay and processes events until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.stopTimers()

	s.safely("initialize", func() { s.initialize(ctx) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			s.safely("event", func() { s.handle(ctx, ev) })
		case <-timerC(s.debounce):
			s.debounce = nil
			s.safely("debounce", func() { s.onDebounce(ctx) })
		case <-timerC(s.settle):
			s.settle = nil
			s.safely("refresh settle", func() { s.redraw(ctx, "refresh") })
		case <-timerC(s.locate):
			s.locate = nil
			s.safely("locate", func() { s.tryLocate(ctx) })
		case <-timerC(s.lockRelease):
			s.lockRelease = nil
			s.safely("lock release", func() { s.onLockRelease(ctx) })
		}
	}
}

// Submit enqueues ev without blocking. A full queue drops the event.
func (s *Scheduler) Submit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		s.metrics.EventDropped(string(ev.Kind))
		slog.Debug("scheduler queue full, event dropped", "kind", ev.Kind)
		return false
	}
}

// Do enqueues ev and waits for the loop to apply it, returning the resulting state.
func (s *Scheduler) Do(ctx context.Context, ev Event) (State, error) {
	ev.reply = make(chan State, 1)
	if !s.Submit(ev) {
		return s.State(), ErrQueueFull
	}
	select {
	case st := <-ev.reply:
		return st, nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// State returns a copy of the current RenderState summary.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.HistorySize = s.tracker.Len()
	st.Coalesced = s.coalesced.Load()
	st.DroppedQueue = s.dropped.Load()
	return st
}

// Tracker exposes the history for read-only API views.
func (s *Scheduler) Tracker() *history.Tracker { return s.tracker }

// DeltaWindow is the lookback used for bar deltas.
func (s *Scheduler) DeltaWindow() time.Duration { return s.cfg.DeltaWindow }

func (s *Scheduler) initialize(ctx context.Context) {
	if s.phase != PhaseUninitialized {
		return
	}
	s.loadWindow(ctx)
	if err := s.tracker.Load(ctx); err != nil {
		slog.Warn("history load failed, starting empty", "error", err)
	}
	s.installHooks(ctx)

	s.locateAttempt = 0
	s.locateInterval = s.cfg.Retry.FirstInterval()
	s.locateErr = nil
	s.tryLocate(ctx)
}

// tryLocate runs one table probe. A miss arms the locate timer until the retry budget is
// spent, so events (close included) keep flowing while the page loads.
func (s *Scheduler) tryLocate(ctx context.Context) {
	if s.phase != PhaseUninitialized {
		return
	}
	s.locateAttempt++
	table, ok, err := s.locator.Probe(ctx, s.page.ProbeTables)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.locateErr = err
		slog.Debug("table probe failed", "attempt", s.locateAttempt, "error", err)
	}
	if ok {
		s.phase = PhaseObserving
		s.metrics.Locate(true)
		slog.Info("option chain table located", "table_id", table.ID, "rows", len(table.Rows), "attempt", s.locateAttempt)
		s.redraw(ctx, "initial")
		return
	}
	attempts := s.cfg.Retry.Attempts()
	if s.locateAttempt < attempts {
		s.arm(&s.locate, s.locateInterval)
		s.locateInterval = s.cfg.Retry.Next(s.locateInterval)
		return
	}

	s.phase = PhaseObserving
	s.metrics.Locate(false)
	err = optionchain.NotFoundError(attempts, s.locateErr)
	slog.Warn("option chain table not found, waiting for page changes", "url", s.page.URL(), "error", err)
	s.paintFallback(ctx, render.StatusWaiting, "")
	s.publishState()
	if s.notifier != nil {
		url := s.page.URL()
		go func() {
			if nerr := s.notifier.TableNotFound(ctx, url, attempts); nerr != nil {
				slog.Warn("table not found notification failed", "error", nerr)
			}
		}()
	}
}

func (s *Scheduler) handle(ctx context.Context, ev Event) {
	s.metrics.Event(string(ev.Kind))
	defer func() {
		if ev.reply != nil {
			ev.reply <- s.State()
		}
	}()

	switch ev.Kind {
	case EventMutation:
		if s.phase == PhaseUninitialized || s.phase == PhaseClosed {
			return
		}
		if s.debounce == nil {
			s.debounce = time.NewTimer(s.cfg.Debounce)
		}
	case EventRefresh:
		if s.phase == PhaseUninitialized || s.phase == PhaseClosed {
			return
		}
		s.phase = PhaseAwaitingRefresh
		s.refreshFP = s.lastFP
		s.arm(&s.settle, s.cfg.RefreshSettle)
		slog.Debug("refresh observed, awaiting new table content", "settle_ms", s.cfg.RefreshSettle.Milliseconds())
		s.publishState()
	case EventNavigate:
		s.cache.Invalidate()
		s.lastFP = ""
		s.livePainted = false
		if ev.FullNavigation {
			s.hooksInstalled = false
		}
		slog.Info("page navigated, column mapping dropped", "full", ev.FullNavigation)
		if s.phase == PhaseClosed || s.phase == PhaseUninitialized {
			return
		}
		s.installHooks(ctx)
		if s.debounce == nil {
			s.debounce = time.NewTimer(s.cfg.Debounce)
		}
	case EventControl:
		s.control(ctx, ev)
	case EventTick:
		if s.phase == PhaseClosed || s.phase == PhaseUninitialized {
			return
		}
		if !s.hooksInstalled {
			s.installHooks(ctx)
		}
		if s.phase == PhaseObserving {
			s.redraw(ctx, "tick")
		}
	default:
		slog.Warn("unknown scheduler event", "kind", ev.Kind)
	}
}

func (s *Scheduler) control(ctx context.Context, ev Event) {
	switch ev.Control {
	case ControlRadius:
		r := s.radius + ev.Delta
		if r < 1 {
			r = 1
		}
		if r > s.cfg.MaxRadius {
			r = s.cfg.MaxRadius
		}
		if r == s.radius {
			return
		}
		s.radius = r
		s.metrics.SetRadius(r)
	case ControlCentering:
		if s.centering == ev.Enabled {
			return
		}
		s.centering = ev.Enabled
	case ControlToggle:
		s.centering = !s.centering
	case ControlClose:
		if s.phase == PhaseClosed {
			return
		}
		s.stopTimers()
		s.inFlight, s.pending, s.refreshReady = false, false, false
		if err := s.page.RemovePanel(ctx); err != nil {
			slog.Warn("panel removal failed", "error", err)
		}
		s.hooksInstalled = false
		s.phase = PhaseClosed
		slog.Info("overlay closed")
		s.publishState()
		return
	case ControlOpen:
		if s.phase != PhaseClosed {
			return
		}
		s.phase = PhaseObserving
		s.livePainted = false
		s.installHooks(ctx)
		slog.Info("overlay reopened")
		s.redraw(ctx, "open")
		return
	default:
		slog.Warn("unknown control", "control", ev.Control)
		return
	}

	s.dirty = true
	if s.phase == PhaseClosed || s.phase == PhaseUninitialized {
		s.publishState()
		return
	}
	if s.inFlight {
		s.pending = true
		s.publishState()
		return
	}
	s.redraw(ctx, "control")
}

func (s *Scheduler) onLockRelease(ctx context.Context) {
	s.inFlight = false
	switch {
	case s.refreshReady:
		s.refreshReady, s.pending = false, false
		s.disarm(&s.settle)
		s.redraw(ctx, "refresh")
	case s.pending:
		s.pending = false
		s.redraw(ctx, "control")
	default:
		s.publishState()
	}
}

func (s *Scheduler) onDebounce(ctx context.Context) {
	if !s.hooksInstalled {
		s.installHooks(ctx)
	}
	if s.phase != PhaseAwaitingRefresh {
		s.redraw(ctx, "mutation")
		return
	}
	cands, err := s.page.ProbeTables(ctx)
	if err != nil {
		slog.Debug("refresh content probe failed", "error", err)
		return
	}
	table, ok := s.locator.Locate(cands)
	if !ok || table.Fingerprint == s.refreshFP {
		return
	}
	if s.inFlight {
		// Settle stays armed until the lock release picks this up.
		s.refreshReady = true
		return
	}
	slog.Debug("refreshed table content detected before settle delay", "table_id", table.ID)
	s.disarm(&s.settle)
	s.redraw(ctx, "refresh")
}

// redraw runs one pass under the reentrancy lock. The lock is released by a timer after the
// pass; triggers arriving while it is held are dropped.
func (s *Scheduler) redraw(ctx context.Context, trigger string) {
	if s.phase == PhaseClosed || s.phase == PhaseUninitialized {
		return
	}
	if s.inFlight {
		s.coalesced.Add(1)
		s.metrics.Coalesced()
		slog.Debug("redraw coalesced", "trigger", trigger)
		return
	}
	s.inFlight = true
	s.phase = PhaseRedrawing
	s.publishState()

	start := s.now()
	sum := PassSummary{ID: s.newID(), Trigger: trigger, At: start}
	defer func() {
		if r := recover(); r != nil {
			sum.Outcome = metrics.OutcomePanic
			sum.Error = fmt.Sprint(r)
			slog.Error("redraw pass panicked", "pass_id", sum.ID, "panic", r, "stack", string(debug.Stack()))
		}
		elapsed := s.now().Sub(start)
		sum.DurationMS = elapsed.Milliseconds()
		if s.phase == PhaseRedrawing {
			s.phase = PhaseObserving
			if s.settle != nil {
				s.phase = PhaseAwaitingRefresh
			}
		}
		s.arm(&s.lockRelease, s.cfg.LockRelease)
		s.lastPass = &sum
		s.metrics.ObservePass(trigger, sum.Outcome, elapsed)
		s.metrics.SetHistory(s.tracker.Len())
		s.publishState()
		s.publishPass(sum)
	}()

	outcome, records, err := s.pass(ctx, trigger)
	sum.Outcome, sum.Records = outcome, records
	if err != nil {
		sum.Error = err.Error()
	}
	lvl := slog.LevelDebug
	if outcome == metrics.OutcomeError || outcome == metrics.OutcomeLayout {
		lvl = slog.LevelWarn
	}
	slog.Log(ctx, lvl, "redraw pass",
		"pass_id", sum.ID,
		"trigger", trigger,
		"outcome", outcome,
		"records", records,
		"table_id", s.tableID,
		"error", err,
	)
}

func (s *Scheduler) pass(ctx context.Context, trigger string) (string, int, error) {
	cands, err := s.page.ProbeTables(ctx)
	if err != nil {
		s.paintFallback(ctx, render.StatusWaiting, "")
		return metrics.OutcomeError, 0, err
	}
	table, ok := s.locator.Locate(cands)
	if !ok {
		s.metrics.Locate(false)
		return s.paintFallback(ctx, render.StatusWaiting, ""), 0, optionchain.ErrTableNotFound
	}

	mapping, remapped, err := s.cache.Resolve(table)
	if err != nil {
		s.tableID, s.mapping = table.ID, nil
		s.paintPlaceholder(ctx, render.StatusLayoutUnrecognized, "")
		return metrics.OutcomeLayout, 0, err
	}
	if remapped {
		s.metrics.Remapped()
		s.lastFP = ""
	}
	s.tableID = table.ID
	s.mapping = &mapping

	if trigger != "control" && trigger != "open" && !s.dirty && s.livePainted && table.Fingerprint == s.lastFP {
		return metrics.OutcomeUnchanged, s.lastRecords, nil
	}

	records := optionchain.ParseRows(table.Rows, mapping)
	s.metrics.SetRecords(len(records))
	if len(records) == 0 {
		slog.Warn("empty parse, showing last good window", "table_id", table.ID, "error", optionchain.ErrEmptyParse)
		return s.paintFallback(ctx, render.StatusNoData, ""), 0, nil
	}

	spot, err := s.page.ReadSpot(ctx)
	if err != nil {
		slog.Debug("spot price unavailable", "error", err)
		spot = nil
	}
	s.spot = spot

	win := s.selectWindow(records, spot)
	if _, err := s.tracker.RecordSnapshot(ctx, history.ValuesFromRecords(records)); err != nil {
		slog.Warn("history snapshot not persisted", "error", err)
	}

	view := render.BuildView(win, s.radius, s.centering, s.deltas)
	view.UpdatedAt = s.now()
	if err := s.paint(ctx, view); err != nil {
		return metrics.OutcomeError, len(records), err
	}

	s.lastFP = table.Fingerprint
	s.lastRecords = len(records)
	s.dirty = false
	s.livePainted = true
	s.saveWindow(ctx, win)
	return metrics.OutcomeDrawn, len(records), nil
}

func (s *Scheduler) selectWindow(records []optionchain.StrikeRecord, spot *float64) optionchain.DisplayWindow {
	if s.cfg.SymmetricPad {
		return optionchain.SelectPaddedWindow(records, spot, s.radius, s.centering)
	}
	return optionchain.SelectWindow(records, spot, s.radius, s.centering)
}

func (s *Scheduler) deltas(strike float64, kind string) (float64, bool) {
	m, err := history.ParseMetric(kind)
	if err != nil {
		return 0, false
	}
	return s.tracker.PercentChangeSince(strike, m, s.cfg.DeltaWindow)
}

// paintFallback shows the last good window marked stale, or the placeholder for status when
// nothing has been drawn yet. It returns the pass outcome.
func (s *Scheduler) paintFallback(ctx context.Context, status render.Status, message string) string {
	s.livePainted = false
	if s.lastGood != nil && !s.lastGood.Window.Empty() {
		view := render.BuildView(s.lastGood.Window, s.radius, s.centering, s.deltas)
		view.Status = render.StatusStale
		view.Message = message
		view.UpdatedAt = s.lastGood.SavedAt
		if err := s.paint(ctx, view); err != nil {
			slog.Warn("stale paint failed", "error", err)
		}
		return metrics.OutcomeStale
	}
	s.paintPlaceholder(ctx, status, message)
	if status == render.StatusWaiting {
		return metrics.OutcomeWaiting
	}
	return metrics.OutcomeNoData
}

func (s *Scheduler) paintPlaceholder(ctx context.Context, status render.Status, message string) {
	s.livePainted = false
	if err := s.paint(ctx, render.Placeholder(status, message)); err != nil {
		slog.Warn("placeholder paint failed", "status", status, "error", err)
	}
}

func (s *Scheduler) paint(ctx context.Context, view render.View) error {
	html, err := render.Panel(view)
	if err != nil {
		return err
	}
	return s.page.Paint(ctx, html)
}

func (s *Scheduler) installHooks(ctx context.Context) {
	if err := s.page.InstallHooks(ctx); err != nil {
		slog.Warn("page hook install failed", "error", err)
		return
	}
	s.hooksInstalled = true
}

func (s *Scheduler) loadWindow(ctx context.Context) {
	if s.store == nil {
		return
	}
	data, err := s.store.Get(ctx, s.cfg.WindowKey)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("last window load failed", "key", s.cfg.WindowKey, "error", err)
		return
	}
	var saved savedWindow
	if err := json.Unmarshal(data, &saved); err != nil {
		slog.Warn("last window decode failed", "key", s.cfg.WindowKey, "error", err)
		return
	}
	if saved.Window.Empty() {
		return
	}
	s.lastGood = &saved
	slog.Info("last window restored", "records", len(saved.Window.VisibleRecords), "saved_at", saved.SavedAt)
}

func (s *Scheduler) saveWindow(ctx context.Context, win optionchain.DisplayWindow) {
	saved := &savedWindow{Window: win, SavedAt: s.now()}
	s.lastGood = saved
	if s.store == nil {
		return
	}
	data, err := json.Marshal(saved)
	if err != nil {
		slog.Warn("last window encode failed", "error", err)
		return
	}
	if err := s.store.Put(ctx, s.cfg.WindowKey, data); err != nil {
		slog.Warn("last window save failed", "key", s.cfg.WindowKey, "error", err)
	}
}

func (s *Scheduler) publishState() {
	st := State{
		Phase:     s.phase,
		Radius:    s.radius,
		MaxRadius: s.cfg.MaxRadius,
		Centering: s.centering,
		InFlight:  s.inFlight,
		TableID:   s.tableID,
		Spot:      s.spot,
		LastPass:  s.lastPass,
	}
	if s.mapping != nil {
		m := *s.mapping
		st.Mapping = &m
	}
	if s.lastGood != nil {
		w := s.lastGood.Window
		st.Window = &w
		st.WindowSaved = s.lastGood.SavedAt
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) publishPass(sum PassSummary) {
	if s.pub == nil {
		return
	}
	payload := struct {
		Pass      PassSummary                `json:"pass"`
		Radius    int                        `json:"radius"`
		Centering bool                       `json:"centering"`
		Window    *optionchain.DisplayWindow `json:"window,omitempty"`
	}{Pass: sum, Radius: s.radius, Centering: s.centering}
	if s.lastGood != nil {
		w := s.lastGood.Window
		payload.Window = &w
	}
	if err := s.pub.PublishJSON("redraw", sum.ID, payload); err != nil {
		slog.Debug("redraw event publish failed", "error", err)
	}
}

func (s *Scheduler) safely(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler recovered from panic", "where", where, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (s *Scheduler) arm(t **time.Timer, d time.Duration) {
	s.disarm(t)
	*t = time.NewTimer(d)
}

func (s *Scheduler) disarm(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Scheduler) stopTimers() {
	s.disarm(&s.debounce)
	s.disarm(&s.settle)
	s.disarm(&s.lockRelease)
	s.disarm(&s.locate)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
