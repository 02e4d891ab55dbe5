package retry

import (
	"errors"
	"time"
)

// Severity classifies a user-facing notification.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// Notification is the payload delivered to the user-facing channel when an
// operation fails for good.
type Notification struct {
	Severity Severity
	Summary  string
	Detail   string
	Life     time.Duration
}

// Notifier receives terminal-failure notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// ChannelNotifier delivers notifications over a buffered channel. When the
// buffer is full the notification is dropped and counted.
type ChannelNotifier struct {
	ch      chan Notification
	dropped chan struct{}
}

// NewChannelNotifier allocates a notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelNotifier{
		ch:      make(chan Notification, buffer),
		dropped: make(chan struct{}, 1),
	}
}

// Notify enqueues n without blocking.
func (c *ChannelNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
		select {
		case c.dropped <- struct{}{}:
		default:
		}
	}
}

// C exposes the receive side of the channel.
func (c *ChannelNotifier) C() <-chan Notification {
	return c.ch
}

// Dropped reports (and clears) whether a notification was dropped since the last call.
func (c *ChannelNotifier) Dropped() bool {
	select {
	case <-c.dropped:
		return true
	default:
		return false
	}
}

// Messager is implemented by errors that carry a message suitable for end users,
// such as the backend's own error text.
type Messager interface {
	UserMessage() string
}

// MessageOf picks the most user-friendly text available for err.
func MessageOf(err error) string {
	if err == nil {
		return "Unknown error"
	}
	var m Messager
	if errors.As(err, &m) {
		if msg := m.UserMessage(); msg != "" {
			return msg
		}
	}
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Err != nil {
		return rerr.Err.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
