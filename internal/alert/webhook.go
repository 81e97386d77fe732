package alert

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// WebhookSink posts alerts to an operator-configured webhook (chat, paging,
// whatever the deployment points it at), falling back to a log line if the
// POST itself fails — a Sink's contract is fire-and-forget, never a hard
// dependency on the remote endpoint being up.
type WebhookSink struct {
	rc    *resty.Client
	token string
	log   *logrus.Entry
}

// NewWebhookSink builds a WebhookSink posting to url with token as a bearer
// credential.
func NewWebhookSink(url, token string, log *logrus.Entry) *WebhookSink {
	rc := resty.New().SetBaseURL(url).SetTimeout(10 * time.Second)
	return &WebhookSink{rc: rc, token: token, log: log}
}

func (w *WebhookSink) Alert(text string) { w.post("alert", text) }

func (w *WebhookSink) Notify(text string) { w.post("notify", text) }

func (w *WebhookSink) post(level, text string) {
	defer recoverSinkPanic(w.log)
	_, err := w.rc.R().
		SetAuthToken(w.token).
		SetBody(map[string]string{"level": level, "text": text}).
		Post("")
	if err != nil {
		w.log.WithError(err).Warnf("webhook alert delivery failed, text was: %s", text)
	}
}

// NewSink builds the operator alert Sink: a WebhookSink when webhookURL is
// configured, otherwise the log-only default.
func NewSink(webhookURL, token string, log *logrus.Entry) Sink {
	if webhookURL == "" {
		return NewLogSink(log)
	}
	return NewWebhookSink(webhookURL, token, log)
}
