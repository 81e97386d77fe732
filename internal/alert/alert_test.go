package alert

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() (*logrus.Entry, *test.Hook) {
	log, hook := test.NewNullLogger()
	return log.WithField("test", true), hook
}

func TestLogSinkNeverPanics(t *testing.T) {
	entry, _ := newTestLogger()
	sink := NewLogSink(entry)
	assert.NotPanics(t, func() {
		sink.Alert("boom")
		sink.Notify("fyi")
	})
}

func TestRateLimitedAlertThrottlesRepeats(t *testing.T) {
	entry, hook := newTestLogger()
	inner := NewLogSink(entry)
	limited := NewRateLimited(inner, time.Minute)

	for i := 0; i < 5; i++ {
		limited.AlertThrottled("rate-limit", "rate limited by venue")
	}

	assert.Len(t, hook.Entries, 1)
}

func TestFormatPrefixesTag(t *testing.T) {
	assert.Equal(t, "[RISK] portfolio stop-loss", Format(TagRisk, "portfolio stop-loss"))
}
