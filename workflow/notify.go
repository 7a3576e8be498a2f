package workflow

import "go.uber.org/zap"

// NoticeKind classifies a user-facing status message.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notifier receives transient, toast-style messages for the user.
type Notifier interface {
	Notify(kind NoticeKind, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind NoticeKind, message string)

func (f NotifierFunc) Notify(kind NoticeKind, message string) { f(kind, message) }

// LogNotifier writes notices to a zap logger; used when no UI is attached.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(kind NoticeKind, message string) {
	if n.Logger == nil {
		return
	}
	switch kind {
	case NoticeError:
		n.Logger.Warn(message, zap.String("kind", string(kind)))
	default:
		n.Logger.Info(message, zap.String("kind", string(kind)))
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(NoticeKind, string) {}
