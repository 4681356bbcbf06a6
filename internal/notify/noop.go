package notify

import (
	"context"
	"log/slog"
)

// NoOpNotifier implements Notifier by logging discarded alerts. It is used
// when no notification backend is configured.
type NoOpNotifier struct {
	log *slog.Logger
}

// NewNoOpNotifier creates a notifier that discards alerts with a log message.
func NewNoOpNotifier(log *slog.Logger) *NoOpNotifier {
	return &NoOpNotifier{log: log}
}

// SendAlert logs and discards a single alert.
func (n *NoOpNotifier) SendAlert(_ context.Context, alert *AlertPayload) error {
	n.log.Debug("notification discarded (no backend configured)",
		"product", alert.ProductName,
		"kind", alert.Kind,
		"target_reached", alert.TargetReached,
	)
	return nil
}

// SendBatchAlert logs and discards a batch of alerts.
func (n *NoOpNotifier) SendBatchAlert(_ context.Context, alerts []AlertPayload, productName string) error {
	n.log.Debug("batch notification discarded (no backend configured)",
		"product", productName,
		"count", len(alerts),
	)
	return nil
}

// SendTest logs and succeeds.
func (n *NoOpNotifier) SendTest(context.Context) error {
	n.log.Info("test notification discarded (no backend configured)")
	return nil
}
