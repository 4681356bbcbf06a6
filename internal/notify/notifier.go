// Package notify defines the notification interface and implementations
// for alert delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// AlertPayload contains the data needed to announce a change event.
type AlertPayload struct {
	EventID       string
	ProductName   string
	ProductURL    string
	Kind          domain.ChangeKind
	OldPrice      *decimal.Decimal
	NewPrice      *decimal.Decimal
	Currency      string
	TargetPrice   *decimal.Decimal
	TargetReached bool
	ChangedAt     time.Time
}

// NewAlertPayload builds the payload for event e on product p.
func NewAlertPayload(p *domain.TrackedProduct, e *domain.ChangeEvent) AlertPayload {
	name := p.Name
	if name == "" {
		name = p.URL
	}
	return AlertPayload{
		EventID:       e.ID,
		ProductName:   name,
		ProductURL:    p.URL,
		Kind:          e.Kind,
		OldPrice:      e.OldAmount,
		NewPrice:      e.NewAmount,
		Currency:      e.Currency,
		TargetPrice:   p.TargetPrice,
		TargetReached: e.TargetReached,
		ChangedAt:     e.CreatedAt,
	}
}

// Title is the one-line headline for the alert.
func (a *AlertPayload) Title() string {
	switch {
	case a.Kind == domain.ChangePriceDrop && a.OldPrice != nil && !a.OldPrice.IsZero():
		return fmt.Sprintf("Price drop: %s (%s%%)", a.ProductName, a.changePercent().StringFixed(1))
	case a.TargetReached:
		return "Target price reached: " + a.ProductName
	case a.Kind == domain.ChangeBackInStock:
		return "Back in stock: " + a.ProductName
	default:
		return "Price change: " + a.ProductName
	}
}

// Change renders the absolute and relative difference, or "" when there
// is no previous price.
func (a *AlertPayload) Change() string {
	if a.OldPrice == nil || a.NewPrice == nil || a.OldPrice.IsZero() {
		return ""
	}
	diff := a.NewPrice.Sub(*a.OldPrice)
	sign := ""
	if diff.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("%s%s %s (%s%s%%)",
		sign, diff.StringFixed(2), a.Currency, sign, a.changePercent().StringFixed(1))
}

func (a *AlertPayload) changePercent() decimal.Decimal {
	return a.NewPrice.Sub(*a.OldPrice).Div(*a.OldPrice).Mul(decimal.NewFromInt(100))
}

// FormatPrice renders an amount with its currency, or "-" when absent.
func FormatPrice(d *decimal.Decimal, currency string) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2) + " " + currency
}

// Notifier defines the interface for sending change alerts.
type Notifier interface {
	SendAlert(ctx context.Context, alert *AlertPayload) error
	SendBatchAlert(ctx context.Context, alerts []AlertPayload, productName string) error
	// SendTest delivers a fixed message to check the backend settings.
	SendTest(ctx context.Context) error
}

// Multi fans every call out to several notifiers and joins their errors.
type Multi []Notifier

// SendAlert delivers alert through every notifier.
func (m Multi) SendAlert(ctx context.Context, alert *AlertPayload) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendBatchAlert delivers a batch through every notifier.
func (m Multi) SendBatchAlert(ctx context.Context, alerts []AlertPayload, productName string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendBatchAlert(ctx, alerts, productName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendTest sends a test message through every notifier.
func (m Multi) SendTest(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if err := n.SendTest(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
