// Package history keeps a bounded, time-windowed record of per-strike open interest so the
// overlay can show how each strike moved over the last few minutes.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/oi_overlay/internal/store"
)

// Config bounds the history by age and by count.
type Config struct {
	Window       time.Duration
	Margin       time.Duration
	MinInterval  time.Duration
	MaxSnapshots int
	// Key is the scoped store key the history is persisted under.
	Key string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.Margin < 0 {
		c.Margin = 0
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Minute
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = 60
	}
	if c.Key == "" {
		c.Key = "history"
	}
	return c
}

// Journal receives every appended snapshot.
type Journal interface {
	Write(record any) error
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithJournal(j Journal) Option {
	return func(t *Tracker) { t.journal = j }
}

// Tracker is the snapshot history. It is safe for concurrent use.
type Tracker struct {
	cfg     Config
	kv      store.KV
	journal Journal
	now     func() time.Time

	mu      sync.Mutex
	ring    *circularbuffer.Queue
	current map[string]Values
}

// NewTracker creates an empty tracker. kv may be nil for an in-memory history.
func NewTracker(cfg Config, kv store.KV, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{
		cfg:  cfg,
		kv:   kv,
		now:  time.Now,
		ring: circularbuffer.New(cfg.MaxSnapshots),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load replaces the in-memory history with the persisted one, pruning expired snapshots.
// A missing key is not an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.kv == nil {
		return nil
	}
	data, err := t.kv.Get(ctx, t.cfg.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history load: %w", err)
	}

	var snaps []Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return fmt.Errorf("history load: decode %s: %w", t.cfg.Key, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring.Clear()
	for _, s := range snaps {
		t.ring.Enqueue(s)
	}
	dropped := t.evictLocked(t.now())
	if t.current == nil && !t.ring.Empty() {
		all := t.snapshotsLocked()
		t.current = all[len(all)-1].Values
	}
	slog.Info("history loaded", "key", t.cfg.Key, "snapshots", t.ring.Size(), "pruned", dropped)
	return nil
}

// RecordSnapshot stores values as the current reading and appends a snapshot when there is no
// prior snapshot or the newest one is at least MinInterval old. It reports whether a snapshot
// was appended. Persistence failures are returned but leave the in-memory history updated.
func (t *Tracker) RecordSnapshot(ctx context.Context, values map[string]Values) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	now := t.now()

	t.mu.Lock()
	t.current = values
	if newest, ok := t.newestLocked(); ok && now.Sub(newest.Timestamp) < t.cfg.MinInterval {
		t.mu.Unlock()
		return false, nil
	}
	snap := Snapshot{Timestamp: now, Values: values}
	t.ring.Enqueue(snap)
	t.evictLocked(now)
	payload, err := json.Marshal(t.snapshotsLocked())
	t.mu.Unlock()

	if t.journal != nil {
		if jerr := t.journal.Write(snap); jerr != nil {
			slog.Debug("history journal write failed", "error", jerr)
		}
	}
	if err != nil {
		return true, fmt.Errorf("history save: encode: %w", err)
	}
	return true, t.save(ctx, payload)
}

// PercentChangeSince compares the current value of strike with the snapshot closest to
// now-window. It returns false when no snapshot exists, the strike is absent from either side,
// or the old value is zero.
func (t *Tracker) PercentChangeSince(strike float64, metric Metric, window time.Duration) (float64, bool) {
	key := StrikeKey(strike)
	target := t.now().Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[key]
	if !ok {
		return 0, false
	}

	var closest *Snapshot
	var closestDist time.Duration
	for _, v := range t.ring.Values() {
		s := v.(Snapshot)
		d := s.Timestamp.Sub(target)
		if d < 0 {
			d = -d
		}
		if closest == nil || d < closestDist {
			snap := s
			closest, closestDist = &snap, d
		}
	}
	if closest == nil {
		return 0, false
	}
	old, ok := closest.Values[key]
	if !ok {
		return 0, false
	}
	return percentChange(old.Get(metric), cur.Get(metric))
}

func percentChange(old, cur float64) (float64, bool) {
	o := decimal.NewFromFloat(old)
	if o.IsZero() {
		return 0, false
	}
	pct := decimal.NewFromFloat(cur).Sub(o).Div(o.Abs()).Mul(decimal.NewFromInt(100))
	return pct.Round(4).InexactFloat64(), true
}

// Prune evicts expired snapshots and persists the result if anything was dropped.
func (t *Tracker) Prune(ctx context.Context) (int, error) {
	t.mu.Lock()
	dropped := t.evictLocked(t.now())
	var payload []byte
	var err error
	if dropped > 0 {
		payload, err = json.Marshal(t.snapshotsLocked())
	}
	t.mu.Unlock()

	if dropped == 0 {
		return 0, nil
	}
	if err != nil {
		return dropped, fmt.Errorf("history save: encode: %w", err)
	}
	return dropped, t.save(ctx, payload)
}

// Snapshots returns the history, oldest first.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotsLocked()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ring.Size()
}

// Window is the comparison window used by callers that do not pass their own.
func (t *Tracker) Window() time.Duration { return t.cfg.Window }

func (t *Tracker) save(ctx context.Context, payload []byte) error {
	if t.kv == nil {
		return nil
	}
	if err := t.kv.Put(ctx, t.cfg.Key, payload); err != nil {
		return fmt.Errorf("history save: %w", err)
	}
	return nil
}

// evictLocked drops snapshots older than window+margin from the front. The newest snapshot at
// or before now-window is the baseline for PercentChangeSince and is never dropped by age.
// The ring itself enforces the count cap by overwriting the oldest entry.
func (t *Tracker) evictLocked(now time.Time) int {
	limit := t.cfg.Window + t.cfg.Margin
	cutoff := now.Add(-t.cfg.Window)
	dropped := 0
	for t.ring.Size() > 1 {
		vals := t.ring.Values()
		if now.Sub(vals[0].(Snapshot).Timestamp) <= limit {
			break
		}
		if vals[1].(Snapshot).Timestamp.After(cutoff) {
			break
		}
		t.ring.Dequeue()
		dropped++
	}
	return dropped
}

func (t *Tracker) newestLocked() (Snapshot, bool) {
	if t.ring.Empty() {
		return Snapshot{}, false
	}
	vals := t.ring.Values()
	return vals[len(vals)-1].(Snapshot), true
}

func (t *Tracker) snapshotsLocked() []Snapshot {
	vals := t.ring.Values()
	out := make([]Snapshot, len(vals))
	for i, v := range vals {
		out[i] = v.(Snapshot)
	}
	return out
}
