// Package notify delivers operator alerts for ledger lifecycle events.
// Notifications are dispatched to all registered senders (Telegram, Discord)
// and can be filtered by event type so operators receive only the alerts
// they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event type
// is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// MarketResolved formats and sends a market settlement alert.
func (n *Notifier) MarketResolved(ctx context.Context, m domain.Market) error {
	outcome := "NO"
	if m.Outcome {
		outcome = "YES"
	}
	title := fmt.Sprintf("Market %d resolved: %s", m.ID, outcome)
	message := fmt.Sprintf(
		"%s\nYES pool: %s | NO pool: %s | escrow: %s",
		m.Question,
		formatAmount(m.TotalYes),
		formatAmount(m.TotalNo),
		formatAmount(m.Escrow),
	)
	return n.Notify(ctx, domain.EventMarketResolved, title, message)
}

// EmergencyWithdrawal formats and sends an emergency recovery alert. These
// should be rare, so they are worth an operator's attention.
func (n *Notifier) EmergencyWithdrawal(ctx context.Context, m domain.Market, amount int64) error {
	title := fmt.Sprintf("Emergency withdrawal on market %d", m.ID)
	message := fmt.Sprintf(
		"%s\ncreator %s withdrew %s from escrow",
		m.Question,
		m.Creator,
		formatAmount(amount),
	)
	return n.Notify(ctx, domain.EventEmergencyWithdrawal, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatAmount renders a micro-unit amount as a decimal string, e.g.
// 1_500_000 -> "1.500000".
func formatAmount(micro int64) string {
	sign := ""
	if micro < 0 {
		sign = "-"
		micro = -micro
	}
	return fmt.Sprintf("%s%d.%06d", sign, micro/1_000_000, micro%1_000_000)
}
