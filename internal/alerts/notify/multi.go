package notify

import (
	"context"

	alertapp "cems-cloud/internal/alerts/application"
)

// MultiNotifier fans one event out to several notifiers.
type MultiNotifier struct {
	notifiers []alertapp.Notifier
}

// NewMultiNotifier constructs a fan-out notifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...alertapp.Notifier) *MultiNotifier {
	kept := make([]alertapp.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

// Notify implements application.Notifier.
func (m *MultiNotifier) Notify(ctx context.Context, event alertapp.AlertEvent) {
	if m == nil {
		return
	}
	for _, n := range m.notifiers {
		n.Notify(ctx, event)
	}
}
