package optionchain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Readiness is the minimum shape a table must have before it is trusted.
// It keeps the locator from locking onto a skeleton table while the host page loads.
type Readiness struct {
	MinRows    int
	MinColumns int
}

// ProbeFunc reads the current table candidates from the page.
type ProbeFunc func(ctx context.Context) ([]TableCandidate, error)

// RetryPolicy bounds the locate poll.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	// Backoff multiplies the interval after each miss; values below 1 mean a fixed interval.
	Backoff     float64
	MaxInterval time.Duration
}

// Locator finds the option chain table among page candidates.
type Locator struct {
	schema    Schema
	readiness Readiness
}

func NewLocator(schema Schema, readiness Readiness) *Locator {
	if readiness.MinRows <= 0 {
		readiness.MinRows = 3
	}
	if readiness.MinColumns <= 0 {
		readiness.MinColumns = 15
	}
	return &Locator{schema: schema, readiness: readiness}
}

// Locate picks the option chain table. Candidates whose text carries both a calls marker and a
// strike marker win; without any such candidate the largest table is used. The pick must be ready.
func (l *Locator) Locate(cands []TableCandidate) (TableCandidate, bool) {
	pool := make([]TableCandidate, 0, len(cands))
	for _, c := range cands {
		if l.marked(c) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = cands
	}

	best := -1
	bestSize := -1
	for i, c := range pool {
		if size := tableSize(c); size > bestSize {
			best, bestSize = i, size
		}
	}
	if best < 0 {
		return TableCandidate{}, false
	}
	if !l.ready(pool[best]) {
		return TableCandidate{}, false
	}
	return pool[best], true
}

// Attempts is the probe budget; at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// FirstInterval is the wait after the first miss.
func (p RetryPolicy) FirstInterval() time.Duration {
	if p.Interval <= 0 {
		return 400 * time.Millisecond
	}
	return p.Interval
}

// Next applies the backoff to interval, capped at MaxInterval.
func (p RetryPolicy) Next(interval time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return interval
	}
	interval = time.Duration(float64(interval) * p.Backoff)
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		interval = p.MaxInterval
	}
	return interval
}

// Probe runs one probe and Locate over its result.
func (l *Locator) Probe(ctx context.Context, probe ProbeFunc) (TableCandidate, bool, error) {
	cands, err := probe(ctx)
	if err != nil {
		return TableCandidate{}, false, err
	}
	table, ok := l.Locate(cands)
	return table, ok, nil
}

// NotFoundError wraps ErrTableNotFound with the attempt count and the last probe error.
func NotFoundError(attempts int, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrTableNotFound, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrTableNotFound, attempts)
}

func (l *Locator) marked(c TableCandidate) bool {
	text := strings.ToLower(c.Text)
	return containsAny(text, l.schema.Keywords.CallsMarker) && containsAny(text, l.schema.Keywords.Strike)
}

func (l *Locator) ready(c TableCandidate) bool {
	populated := 0
	for _, row := range c.Rows {
		if len(row) < l.readiness.MinColumns {
			continue
		}
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				populated++
				break
			}
		}
	}
	return populated >= l.readiness.MinRows
}

func tableSize(c TableCandidate) int {
	size := 0
	for _, row := range c.Rows {
		size += len(row)
	}
	return size
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
