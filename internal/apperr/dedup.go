package apperr

import (
	"sync"
	"time"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/pkg/ratelimit"
)

// DefaultMaxBeforeAlert and DefaultCooldown match the repeat-error
// threshold and cooldown named in the error handling design: at least 3
// occurrences of the same (errorCode, context) pair inside a 5-minute
// window collapse into a single operator alert.
const (
	DefaultMaxBeforeAlert = 3
	DefaultCooldown       = 5 * time.Minute
)

// Deduper counts recoverable errors per (errorCode, context) key and
// reports true at most once per cooldown window once the count reaches the
// threshold, so the caller can raise exactly one operator alert.
type Deduper struct {
	maxBeforeAlert int
	cooldown       time.Duration

	mu       sync.Mutex
	windows  map[string]*ratelimit.SlidingWindow
	alerted  map[string]time.Time
	now      func() time.Time
}

// NewDeduper builds a Deduper with the given threshold and cooldown.
func NewDeduper(maxBeforeAlert int, cooldown time.Duration) *Deduper {
	return &Deduper{
		maxBeforeAlert: maxBeforeAlert,
		cooldown:       cooldown,
		windows:        make(map[string]*ratelimit.SlidingWindow),
		alerted:        make(map[string]time.Time),
		now:            time.Now,
	}
}

// NewDefaultDeduper builds a Deduper using the spec's default threshold
// and cooldown.
func NewDefaultDeduper() *Deduper {
	return NewDeduper(DefaultMaxBeforeAlert, DefaultCooldown)
}

func key(errorCode, context string) string {
	return errorCode + "\x00" + context
}

// Record registers one occurrence of (errorCode, context) and reports
// whether the caller should raise an operator alert for it now. Once an
// alert has fired for a key, subsequent occurrences inside the same
// cooldown window never fire again.
func (d *Deduper) Record(errorCode, context string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(errorCode, context)
	w, ok := d.windows[k]
	if !ok {
		w = ratelimit.NewSlidingWindow(1<<30, d.cooldown)
		d.windows[k] = w
	}
	w.Allow() // always records the occurrence; capacity is effectively unbounded
	count := w.Count()

	if count < d.maxBeforeAlert {
		return false
	}
	if last, fired := d.alerted[k]; fired && d.now().Sub(last) < d.cooldown {
		return false
	}
	d.alerted[k] = d.now()
	return true
}

// AlertIfRepeated records one occurrence of (errorCode, context) and raises
// text via sink exactly once per cooldown window once the repeat threshold
// is met — the caller's single hook into the repeat-error alert throttle.
func (d *Deduper) AlertIfRepeated(sink alert.Sink, errorCode, context, text string) {
	if d.Record(errorCode, context) {
		sink.Alert(text)
	}
}

// Reset clears all counting and alert state, as required by the
// round-trip law: one subsequent error after Reset must be below threshold.
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = make(map[string]*ratelimit.SlidingWindow)
	d.alerted = make(map[string]time.Time)
}
