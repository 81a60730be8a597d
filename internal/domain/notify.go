package domain

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	NotifyInfo         NotificationKind = "info"
	NotifyError        NotificationKind = "error"
	NotifyConnectivity NotificationKind = "connectivity"
)

// Notifier is the sink for user-facing notifications. The engine never
// returns errors to its callers for in-flight generation failures; it
// notifies instead.
type Notifier interface {
	Notify(kind NotificationKind, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(kind NotificationKind, message string)

func (f NotifierFunc) Notify(kind NotificationKind, message string) { f(kind, message) }
