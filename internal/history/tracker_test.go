package history

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
	"github.com/dgnsrekt/oi_overlay/internal/store"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type memJournal struct{ records []any }

func (j *memJournal) Write(record any) error {
	j.records = append(j.records, record)
	return nil
}

func newTracker(t *testing.T, cfg Config, kv store.KV) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)}
	return NewTracker(cfg, kv, WithClock(clock.Now)), clock
}

func callOI(strike float64, v float64) map[string]Values {
	return map[string]Values{StrikeKey(strike): {CallOI: v}}
}

func TestPercentChangeScenarioD(t *testing.T) {
	tr, clock := newTracker(t, Config{Window: 5 * time.Minute, Margin: time.Minute, MinInterval: time.Minute, MaxSnapshots: 60}, nil)
	ctx := context.Background()

	if ok, err := tr.RecordSnapshot(ctx, callOI(24000, 100)); err != nil || !ok {
		t.Fatalf("first RecordSnapshot() = (%v, %v); want appended", ok, err)
	}
	clock.Advance(301 * time.Second)
	if ok, err := tr.RecordSnapshot(ctx, callOI(24000, 150)); err != nil || !ok {
		t.Fatalf("second RecordSnapshot() = (%v, %v); want appended", ok, err)
	}

	got, ok := tr.PercentChangeSince(24000, CallOI, 5*time.Minute)
	if !ok || got != 50 {
		t.Fatalf("PercentChangeSince() = (%v, %v); want (50, true)", got, ok)
	}
}

func TestPercentChangeNullSafety(t *testing.T) {
	tr, clock := newTracker(t, Config{}, nil)
	ctx := context.Background()

	if _, ok := tr.PercentChangeSince(24000, CallOI, 5*time.Minute); ok {
		t.Fatal("PercentChangeSince() with empty history returned a value")
	}

	if _, err := tr.RecordSnapshot(ctx, map[string]Values{
		StrikeKey(24000): {CallOI: 0, PutOI: 10},
	}); err != nil {
		t.Fatalf("RecordSnapshot() error = %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := tr.RecordSnapshot(ctx, map[string]Values{
		StrikeKey(24000): {CallOI: 40, PutOI: 5},
		StrikeKey(24100): {CallOI: 7},
	}); err != nil {
		t.Fatalf("RecordSnapshot() error = %v", err)
	}

	for _, tc := range []struct {
		strike float64
		metric Metric
	}{
		{24000, CallOI}, // old value zero
		{24100, CallOI}, // absent from the old snapshot
		{24200, PutOI},  // absent everywhere
	} {
		got, ok := tr.PercentChangeSince(tc.strike, tc.metric, 5*time.Minute)
		if ok || math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("PercentChangeSince(%v, %v) = (%v, %v); want no value", tc.strike, tc.metric, got, ok)
		}
	}

	got, ok := tr.PercentChangeSince(24000, PutOI, 5*time.Minute)
	if !ok || got != -50 {
		t.Fatalf("PercentChangeSince(put) = (%v, %v); want (-50, true)", got, ok)
	}
}

func TestNegativeBaseUsesAbsoluteDenominator(t *testing.T) {
	got, ok := percentChange(-40, -20)
	if !ok || got != 50 {
		t.Fatalf("percentChange(-40, -20) = (%v, %v); want (50, true)", got, ok)
	}
}

func TestRecordSnapshotRespectsMinInterval(t *testing.T) {
	tr, clock := newTracker(t, Config{MinInterval: time.Minute}, nil)
	ctx := context.Background()

	tr.RecordSnapshot(ctx, callOI(24000, 1))
	clock.Advance(30 * time.Second)
	if ok, _ := tr.RecordSnapshot(ctx, callOI(24000, 2)); ok {
		t.Fatal("RecordSnapshot() appended inside the minimum interval")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", tr.Len())
	}
	if ok, _ := tr.RecordSnapshot(ctx, nil); ok {
		t.Fatal("RecordSnapshot() appended an empty reading")
	}

	// The latest reading is current even when no snapshot was appended.
	clock.Advance(5 * time.Second)
	got, ok := tr.PercentChangeSince(24000, CallOI, time.Minute)
	if !ok || got != 100 {
		t.Fatalf("PercentChangeSince() = (%v, %v); want (100, true)", got, ok)
	}
}

func TestEvictionBoundsAgeAndCount(t *testing.T) {
	cfg := Config{Window: 5 * time.Minute, Margin: time.Minute, MinInterval: 10 * time.Second, MaxSnapshots: 20}
	tr, clock := newTracker(t, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		tr.RecordSnapshot(ctx, callOI(24000, float64(i+1)))
		if tr.Len() > cfg.MaxSnapshots {
			t.Fatalf("Len() = %d after %d inserts; cap is %d", tr.Len(), i+1, cfg.MaxSnapshots)
		}
		clock.Advance(10 * time.Second)
	}

	cfg.MaxSnapshots = 1000
	tr, clock = newTracker(t, cfg, nil)
	for i := 0; i < 100; i++ {
		tr.RecordSnapshot(ctx, callOI(24000, float64(i+1)))
		clock.Advance(10 * time.Second)
	}
	if _, err := tr.Prune(ctx); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	snaps := tr.Snapshots()
	if len(snaps) == 0 {
		t.Fatal("Prune() dropped every snapshot")
	}
	if age := clock.Now().Sub(snaps[0].Timestamp); age > cfg.Window+cfg.Margin {
		t.Fatalf("oldest snapshot age = %v; limit %v", age, cfg.Window+cfg.Margin)
	}
	// The anchor around now-window must survive.
	if age := clock.Now().Sub(snaps[0].Timestamp); age < cfg.Window {
		t.Fatalf("oldest snapshot age = %v; want an anchor at least %v old", age, cfg.Window)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewFile() failed: %v", err)
	}
	ctx := context.Background()
	journal := &memJournal{}
	cfg := Config{Key: "www.nseindia.com_option-chain.history"}

	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)}
	first := NewTracker(cfg, kv, WithClock(clock.Now), WithJournal(journal))
	recs := []optionchain.StrikeRecord{{Strike: 24000, CallOpenInterest: 100, PutOpenInterest: 80}}
	if _, err := first.RecordSnapshot(ctx, ValuesFromRecords(recs)); err != nil {
		t.Fatalf("RecordSnapshot() error = %v", err)
	}
	if len(journal.records) != 1 {
		t.Fatalf("journal records = %d; want 1", len(journal.records))
	}

	data, err := kv.Get(ctx, cfg.Key)
	if err != nil {
		t.Fatalf("kv.Get() error = %v", err)
	}
	var stored []Snapshot
	if err := json.Unmarshal(data, &stored); err != nil || len(stored) != 1 {
		t.Fatalf("stored history = %s (%v)", data, err)
	}

	// Reload after a page reload inside the window.
	clock.Advance(4 * time.Minute)
	second := NewTracker(cfg, kv, WithClock(clock.Now))
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if second.Len() != 1 {
		t.Fatalf("Len() after Load = %d; want 1", second.Len())
	}

	// Reload long after the window prunes everything.
	clock.Advance(time.Hour)
	third := NewTracker(cfg, kv, WithClock(clock.Now))
	if err := third.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if third.Len() != 0 {
		t.Fatalf("Len() after stale Load = %d; want 0", third.Len())
	}
}

func TestLoadMissingKey(t *testing.T) {
	kv, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewFile() failed: %v", err)
	}
	tr := NewTracker(Config{}, kv)
	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load() on empty store = %v; want nil", err)
	}
}

func TestParseMetric(t *testing.T) {
	for _, m := range []Metric{CallOI, PutOI, CallChange, PutChange} {
		got, err := ParseMetric(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMetric(%q) = (%v, %v)", m.String(), got, err)
		}
	}
	if _, err := ParseMetric("gamma"); err == nil {
		t.Fatal("ParseMetric(gamma) succeeded")
	}
}

func TestEvictionKeepsBaselineAcrossLongGap(t *testing.T) {
	cfg := Config{Window: 5 * time.Minute, Margin: time.Minute, MinInterval: time.Minute, MaxSnapshots: 60}
	tr, clock := newTracker(t, cfg, nil)
	ctx := context.Background()

	tr.RecordSnapshot(ctx, callOI(24000, 100))
	clock.Advance(400 * time.Second)
	tr.RecordSnapshot(ctx, callOI(24000, 150))

	if tr.Len() != 2 {
		t.Fatalf("Len() = %d; want the baseline kept beside the new snapshot", tr.Len())
	}
	got, ok := tr.PercentChangeSince(24000, CallOI, 5*time.Minute)
	if !ok || got != 50 {
		t.Fatalf("PercentChangeSince() = (%v, %v); want (50, true)", got, ok)
	}
}

func TestPruneNeverEmptiesHistory(t *testing.T) {
	cfg := Config{Window: 5 * time.Minute, Margin: time.Minute, MinInterval: time.Minute, MaxSnapshots: 60}
	tr, clock := newTracker(t, cfg, nil)
	ctx := context.Background()

	tr.RecordSnapshot(ctx, callOI(24000, 100))
	clock.Advance(370 * time.Second)
	dropped, err := tr.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if dropped != 0 || tr.Len() != 1 {
		t.Fatalf("Prune() dropped %d, Len() = %d; want the only baseline kept", dropped, tr.Len())
	}

	tr.RecordSnapshot(ctx, callOI(24000, 150))
	got, ok := tr.PercentChangeSince(24000, CallOI, 5*time.Minute)
	if !ok || got != 50 {
		t.Fatalf("PercentChangeSince() = (%v, %v); want (50, true)", got, ok)
	}

	// Once a newer snapshot passes now-window, the older one goes.
	clock.Advance(10 * time.Minute)
	tr.RecordSnapshot(ctx, callOI(24000, 175))
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d; want baseline plus newest", tr.Len())
	}
	snaps := tr.Snapshots()
	if snaps[0].Values[StrikeKey(24000)].CallOI != 150 {
		t.Fatalf("baseline = %+v; want the 150 snapshot", snaps[0])
	}
}
