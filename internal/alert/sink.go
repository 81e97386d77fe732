// Package alert defines the narrow, fire-and-forget operator alert and
// structured event interfaces consumed by the engine, plus a rate-limited
// decorator and the logrus-backed default implementations.
package alert

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/pkg/ratelimit"
)

// Sink is the outbound operator alert contract: two fire-and-forget
// methods, neither of which may ever propagate an error to the caller.
type Sink interface {
	Alert(text string)
	Notify(text string)
}

// Tag is one of the conventional prefixes an alert line carries.
type Tag string

const (
	TagCycle    Tag = "CYCLE"
	TagPosition Tag = "POSITION"
	TagRisk     Tag = "RISK"
	TagOrder    Tag = "ORDER"
	TagShutdown Tag = "SHUTDOWN"
)

// Format prefixes text with tag, the conventional alert-line shape.
func Format(tag Tag, text string) string {
	return "[" + string(tag) + "] " + text
}

// LogSink is the default Sink: it just logs. Swapped for a real chat/webhook
// sink at the composition root without any other component noticing.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink wraps log as a Sink.
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Alert(text string) {
	defer recoverSinkPanic(s.log)
	s.log.Warn(text)
}

func (s *LogSink) Notify(text string) {
	defer recoverSinkPanic(s.log)
	s.log.Info(text)
}

func recoverSinkPanic(log *logrus.Entry) {
	if r := recover(); r != nil {
		log.Errorf("alert sink panicked, swallowing: %v", r)
	}
}

// RateLimited decorates a Sink so that Alert calls matching a given key are
// throttled to at most one per window. No component of this module wraps
// its Sink in RateLimited; the engine's sink sends every alert through.
type RateLimited struct {
	inner   Sink
	windows map[string]*ratelimit.SlidingWindow
	window  time.Duration
}

// NewRateLimited builds a RateLimited sink allowing one alert per key per window.
func NewRateLimited(inner Sink, window time.Duration) *RateLimited {
	return &RateLimited{inner: inner, windows: make(map[string]*ratelimit.SlidingWindow), window: window}
}

// AlertThrottled raises an alert for key at most once per window; text is
// only delivered the first time within the window.
func (r *RateLimited) AlertThrottled(key, text string) {
	w, ok := r.windows[key]
	if !ok {
		w = ratelimit.NewSlidingWindow(1, r.window)
		r.windows[key] = w
	}
	if w.Allow() {
		r.inner.Alert(text)
	}
}

// Alert and Notify pass straight through, unthrottled; only AlertThrottled
// applies the per-key limit.
func (r *RateLimited) Alert(text string)  { r.inner.Alert(text) }
func (r *RateLimited) Notify(text string) { r.inner.Notify(text) }
