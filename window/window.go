// Copyright 2019, LightStep Inc.

// Package window composes two ckms.Sketch values into a rolling
// two-bucket time window, so that a reader sees only recently observed
// data instead of the sketch's entire lifetime.
package window

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lightstep/ckms"
)

// invalidArgumentError mirrors ckms.InvalidArgumentError for configuration
// mistakes local to this package (e.g. a non-positive window size).
type invalidArgumentError struct {
	field, reason string
}

func (e *invalidArgumentError) Error() string {
	return fmt.Sprintf("window: invalid %s: %s", e.field, e.reason)
}

func invalidArgument(field, reason string) error {
	return &invalidArgumentError{field: field, reason: reason}
}

// DefaultWindowSize is the width of each time bucket when none is given.
const DefaultWindowSize = 30 * time.Second

// Sampler is the interface an upstream metrics collaborator consumes: an
// observation sink that periodically yields a read-only Snapshot.
type Sampler interface {
	Clear()
	Size() int
	SizeAt(ts time.Time) int
	Update(value int64)
	UpdateAt(value int64, ts time.Time)
	Snapshot() ckms.Snapshot
	SnapshotAt(ts time.Time) ckms.Snapshot
}

// Option configures a WindowedSampler at construction time.
type Option func(*WindowedSampler)

// WithClock overrides the default system clock. Tests use this to supply
// a *ManualClock for deterministic window rotation.
func WithClock(c Clock) Option {
	return func(s *WindowedSampler) { s.clock = c }
}

// WithQuantileTargets overrides the quantile targets of the two Sketches
// backing the sampler. The default is ckms.DefaultQuantileTargets.
func WithQuantileTargets(targets ...ckms.QuantileTarget) Option {
	return func(s *WindowedSampler) { s.targets = targets }
}

// WithLogger attaches a *zap.Logger for debug-level tracing of window
// rotation, window-gap resets, and dropped past-dated writes. The default
// is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *WindowedSampler) { s.logger = l }
}

// WindowedSampler routes timestamped observations into the current
// window's Sketch and exposes the previous, fully-elapsed window as a
// stable Snapshot. A WindowedSampler is safe for concurrent use: every
// public method acquires its single mutex for its full duration.
type WindowedSampler struct {
	mu sync.Mutex

	window  time.Duration
	clock   Clock
	targets []ckms.QuantileTarget
	logger  *zap.Logger

	prev, cur *ckms.Sketch
	curBegin  time.Time
}

var _ Sampler = (*WindowedSampler)(nil)

// New constructs a WindowedSampler with the given window width. A
// non-positive width is rejected.
func New(windowSize time.Duration, opts ...Option) (*WindowedSampler, error) {
	if windowSize <= 0 {
		return nil, invalidArgument("window_size", "must be positive")
	}

	s := &WindowedSampler{
		window: windowSize,
		clock:  SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.targets) == 0 {
		s.targets = ckms.DefaultQuantileTargets()
	}

	var err error
	if s.prev, err = ckms.NewSketch(s.targets...); err != nil {
		return nil, err
	}
	if s.cur, err = ckms.NewSketch(s.targets...); err != nil {
		return nil, err
	}
	s.curBegin = alignWindow(s.clock.Now(), s.window)

	return s, nil
}

// Clear resets both buckets and realigns the current window to now.
func (s *WindowedSampler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetBoth(s.clock.Now())
}

// Update absorbs an observation timestamped at the clock's current time.
func (s *WindowedSampler) Update(value int64) {
	s.UpdateAt(value, s.clock.Now())
}

// UpdateAt absorbs an observation timestamped ts. Past-dated writes
// (ts before the start of the current window) are dropped silently.
func (s *WindowedSampler) UpdateAt(value int64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.advanceWindows(ts) {
		s.logger.Debug("dropped past-dated write", zap.Time("ts", ts), zap.Time("cur_begin", s.curBegin))
		return
	}
	s.cur.Insert(float64(value))
}

// Snapshot produces a read-view over the completed previous window, as of
// the clock's current time.
func (s *WindowedSampler) Snapshot() ckms.Snapshot {
	return s.SnapshotAt(s.clock.Now())
}

// SnapshotAt produces a read-view over the window that was completed as
// of ts. If ts predates the sampler's current window, an empty Snapshot
// is returned.
func (s *WindowedSampler) SnapshotAt(ts time.Time) ckms.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.advanceWindows(ts) {
		return ckms.EmptySnapshot()
	}
	return s.prev.Snapshot()
}

// Size returns the number of samples in the completed previous window, as
// of the clock's current time.
func (s *WindowedSampler) Size() int {
	return s.SizeAt(s.clock.Now())
}

// SizeAt returns the number of samples in the window that was completed
// as of ts.
func (s *WindowedSampler) SizeAt(ts time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.advanceWindows(ts) {
		return 0
	}
	return s.prev.Count()
}

// advanceWindows rotates or resets the bucket pair so that cur always
// covers the window containing ts. The caller must hold s.mu. Returns
// false when ts predates the current window (a rejected past-dated
// write/read).
func (s *WindowedSampler) advanceWindows(ts time.Time) bool {
	if ts.Before(s.curBegin) {
		return false
	}

	nextBegin := s.curBegin.Add(s.window)
	if ts.Before(nextBegin) {
		return true
	}

	gapEnd := nextBegin.Add(s.window)
	if ts.Before(gapEnd) {
		s.prev, s.cur = s.cur, mustEmptySketch(s.targets)
		s.curBegin = nextBegin
		s.logger.Debug("window rotated", zap.Time("cur_begin", s.curBegin))
		return true
	}

	s.resetBoth(ts)
	s.logger.Debug("window reset after gap", zap.Time("ts", ts), zap.Time("cur_begin", s.curBegin))
	return true
}

func (s *WindowedSampler) resetBoth(ts time.Time) {
	s.prev = mustEmptySketch(s.targets)
	s.cur = mustEmptySketch(s.targets)
	s.curBegin = alignWindow(ts, s.window)
}

// alignWindow returns the start of the W-wide interval containing t,
// aligned to the clock epoch.
func alignWindow(t time.Time, w time.Duration) time.Time {
	secs := t.Unix()
	wSecs := int64(w / time.Second)
	aligned := secs - (secs % wSecs)
	return time.Unix(aligned, 0).UTC()
}

func mustEmptySketch(targets []ckms.QuantileTarget) *ckms.Sketch {
	sk, err := ckms.NewSketch(targets...)
	if err != nil {
		// targets were already validated once in New.
		panic(err)
	}
	return sk
}
