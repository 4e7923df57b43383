package background

import "go.uber.org/zap"

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is a user-facing message about the controller's state.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Notifier delivers notifications. Implementations must not block for long;
// Notify is called from the health loop.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type logNotifier struct{ logger *zap.Logger }

// NewLogNotifier writes notifications to logger.
func NewLogNotifier(logger *zap.Logger) Notifier {
	return logNotifier{logger: logger.Named("notify")}
}

func (l logNotifier) Notify(n Notification) {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("message", n.Message)}
	if n.Level == LevelError {
		l.logger.Warn("Notification", fields...)
		return
	}
	l.logger.Info("Notification", fields...)
}
