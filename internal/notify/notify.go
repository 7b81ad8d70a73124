package notify

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Notification carries one fired rule to a delivery channel.
type Notification struct {
	RuleID   string
	RuleName string
	Player   string
	MatchID  string
	Value    string
	Message  string
	FiredAt  time.Time
}

// Notifier delivers fired rules. Delivery is best effort; the evaluator
// records the notification before calling Notify and never rolls back on a
// delivery failure.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ConsoleNotifier prints notifications to a writer. Used by the simulate
// command so rule authors can dry-run a rule set against stored matches.
type ConsoleNotifier struct {
	Out io.Writer
}

func (c *ConsoleNotifier) Notify(_ context.Context, n Notification) error {
	_, err := fmt.Fprintf(c.Out, "[%s] %s (%s, match %s)\n",
		n.RuleID, n.Message, n.Player, n.MatchID)
	return err
}

var _ Notifier = (*ConsoleNotifier)(nil)
