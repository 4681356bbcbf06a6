package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/internal/notify"
	"github.com/donaldgifford/price-watch/internal/store"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const defaultBatchThreshold = 5

// ProcessAlerts sends notifications for pending change events, then marks
// them as notified. Events are grouped by product; a product with
// batchThreshold or more pending events is sent as one batch. Failed
// notifications stay pending and are retried on the next run. Drops and
// restocks of a product that opted out of drop notifications are marked
// notified without being sent, unless they also reached the target price.
func ProcessAlerts(
	ctx context.Context,
	s store.Store,
	n notify.Notifier,
	batchThreshold int,
) (sent int, err error) {
	if batchThreshold <= 0 {
		batchThreshold = defaultBatchThreshold
	}

	pending, err := s.ListPendingEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending events: %w", err)
	}

	if len(pending) == 0 {
		return 0, nil
	}

	grouped, order := groupByProduct(pending)

	var errs []error
	for _, productID := range order {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		events := grouped[productID]
		product, err := s.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			// The product was removed without purging; nobody to tell.
			if err := s.MarkEventsNotified(ctx, eventIDs(events)); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("getting product %s: %w", productID, err))
			continue
		}

		wanted, suppressed := filterByPreference(product, events)
		if len(suppressed) > 0 {
			if err := s.MarkEventsNotified(ctx, eventIDs(suppressed)); err != nil {
				errs = append(errs, fmt.Errorf("marking suppressed events: %w", err))
			}
		}
		if len(wanted) == 0 {
			continue
		}

		if err := sendAlerts(ctx, s, n, product, wanted, batchThreshold); err != nil {
			metrics.NotificationFailuresTotal.Inc()
			errs = append(errs, fmt.Errorf("product %s: %w", productID, err))
			continue
		}
		sent += len(wanted)
	}

	return sent, errors.Join(errs...)
}

// groupByProduct groups events by product and returns the product IDs in
// order of each product's oldest pending event.
func groupByProduct(events []domain.ChangeEvent) (map[string][]domain.ChangeEvent, []string) {
	grouped := make(map[string][]domain.ChangeEvent)
	var order []string
	for _, e := range events {
		if _, ok := grouped[e.ProductID]; !ok {
			order = append(order, e.ProductID)
		}
		grouped[e.ProductID] = append(grouped[e.ProductID], e)
	}
	for _, evs := range grouped {
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].CreatedAt.Before(evs[j].CreatedAt) })
	}
	return grouped, order
}

func filterByPreference(p *domain.TrackedProduct, events []domain.ChangeEvent) (wanted, suppressed []domain.ChangeEvent) {
	for _, e := range events {
		if !p.NotifyOnDrop && !e.TargetReached {
			suppressed = append(suppressed, e)
			continue
		}
		wanted = append(wanted, e)
	}
	return wanted, suppressed
}

func eventIDs(events []domain.ChangeEvent) []string {
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	return ids
}

func sendAlerts(
	ctx context.Context,
	s store.Store,
	n notify.Notifier,
	product *domain.TrackedProduct,
	events []domain.ChangeEvent,
	batchThreshold int,
) error {
	if len(events) >= batchThreshold {
		return sendBatch(ctx, s, n, product, events)
	}

	for i := range events {
		if err := sendSingle(ctx, s, n, product, &events[i]); err != nil {
			return err
		}
	}

	return nil
}

func sendSingle(
	ctx context.Context,
	s store.Store,
	n notify.Notifier,
	product *domain.TrackedProduct,
	event *domain.ChangeEvent,
) error {
	payload := notify.NewAlertPayload(product, event)

	if err := n.SendAlert(ctx, &payload); err != nil {
		recordAttempt(ctx, s, event.ID, err)
		return fmt.Errorf("sending alert: %w", err)
	}
	recordAttempt(ctx, s, event.ID, nil)

	metrics.AlertsFiredTotal.Inc()

	return s.MarkEventsNotified(ctx, []string{event.ID})
}

func sendBatch(
	ctx context.Context,
	s store.Store,
	n notify.Notifier,
	product *domain.TrackedProduct,
	events []domain.ChangeEvent,
) error {
	payloads := make([]notify.AlertPayload, 0, len(events))
	for i := range events {
		payloads = append(payloads, notify.NewAlertPayload(product, &events[i]))
	}

	name := product.Name
	if name == "" {
		name = product.URL
	}

	ids := eventIDs(events)
	if err := n.SendBatchAlert(ctx, payloads, name); err != nil {
		for _, id := range ids {
			recordAttempt(ctx, s, id, err)
		}
		return fmt.Errorf("sending batch alert: %w", err)
	}
	for _, id := range ids {
		recordAttempt(ctx, s, id, nil)
	}

	metrics.AlertsFiredTotal.Add(float64(len(ids)))

	return s.MarkEventsNotified(ctx, ids)
}

// recordAttempt logs a delivery attempt. Losing the audit row is not worth
// failing the notification over.
func recordAttempt(ctx context.Context, s store.Store, eventID string, sendErr error) {
	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
	}
	_ = s.InsertNotificationAttempt(ctx, eventID, sendErr == nil, errText)
}
