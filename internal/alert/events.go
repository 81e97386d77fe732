package alert

import "github.com/sirupsen/logrus"

// Event is one of the finite structured event types the log sink emits.
type Event string

const (
	ApplicationStarted       Event = "APPLICATION_STARTED"
	SessionStarted           Event = "SESSION_STARTED"
	CycleCompleted           Event = "CYCLE_COMPLETED"
	OrderPlaced              Event = "ORDER_PLACED"
	OrderFilled               Event = "ORDER_FILLED"
	OrderModified             Event = "ORDER_MODIFIED"
	OrderTimeout              Event = "ORDER_TIMEOUT"
	PositionCreated           Event = "POSITION_CREATED"
	PositionClosed            Event = "POSITION_CLOSED"
	RiskEvent                 Event = "RISK_EVENT"
	UncaughtException         Event = "UNCAUGHT_EXCEPTION"
	GracefulShutdownStarted   Event = "GRACEFUL_SHUTDOWN_STARTED"
	GracefulShutdownCompleted Event = "GRACEFUL_SHUTDOWN_COMPLETED"
	EmergencyShutdown         Event = "EMERGENCY_SHUTDOWN"
)

// EventLogger emits structured events with free-form key/value context.
// Like Sink, failures here must never propagate.
type EventLogger interface {
	Emit(event Event, fields map[string]interface{})
}

// LogEventLogger is the default EventLogger, backed by logrus.
type LogEventLogger struct {
	log *logrus.Entry
}

// NewLogEventLogger wraps log as an EventLogger.
func NewLogEventLogger(log *logrus.Entry) *LogEventLogger {
	return &LogEventLogger{log: log}
}

func (l *LogEventLogger) Emit(event Event, fields map[string]interface{}) {
	defer recoverSinkPanic(l.log)
	entry := l.log.WithField("event", string(event))
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info(string(event))
}
