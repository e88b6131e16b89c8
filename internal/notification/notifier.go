// Package notification delivers trading alerts (guardrail trips, executed
// arbitrage, session lifecycle) to external channels: Telegram, generic
// webhooks, or the process log.
package notification

import (
	"context"
	"errors"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// rank orders levels for threshold filtering.
func (l AlertLevel) rank() int {
	switch l {
	case AlertCritical:
		return 2
	case AlertWarning:
		return 1
	default:
		return 0
	}
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts to the process log. Always configured as the
// fallback backend.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several backends. Delivery is best-effort per
// backend; all errors are joined so one dead channel never silences the
// others.
type Multi struct {
	backends []Notifier
	minLevel AlertLevel
}

// NewMulti creates a fan-out notifier. Alerts below minLevel are dropped.
func NewMulti(minLevel AlertLevel, backends ...Notifier) *Multi {
	return &Multi{backends: backends, minLevel: minLevel}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	if alert.Level.rank() < m.minLevel.rank() {
		return nil
	}
	var errs []error
	for _, n := range m.backends {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
