package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"lol-match-alerts/internal/storage"
)

type notificationLister interface {
	ListRecentNotifications(ctx context.Context, limit int) ([]storage.NotificationRecord, error)
}

type recordLister interface {
	ListPersonalRecords(ctx context.Context, puuid string) ([]storage.PersonalRecord, error)
}

// Show prints recent fired rules, or one player's personal records when a
// puuid is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	defer closeStore()

	if opts.PUUID != "" {
		return a.showRecords(ctx, store, opts.PUUID)
	}
	return a.showNotifications(ctx, store, opts.Limit)
}

func (a *App) showNotifications(ctx context.Context, store notificationLister, limit int) error {
	notifications, err := store.ListRecentNotifications(ctx, limit)
	if err != nil {
		return err
	}
	if len(notifications) == 0 {
		fmt.Fprintln(os.Stdout, "no notifications recorded")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule\tPlayer\tMatch\tValue\tMessage")
	for _, n := range notifications {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.CreatedAt.UTC().Format(time.RFC3339),
			n.RuleID,
			n.PUUID,
			n.MatchID,
			n.Value.String(),
			sanitizeInline(n.Message),
		)
	}
	return writer.Flush()
}

func (a *App) showRecords(ctx context.Context, store recordLister, puuid string) error {
	records, err := store.ListPersonalRecords(ctx, puuid)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no personal records for player")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Stat\tKind\tValue\tMatch\tSet At (UTC)")
	for _, r := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			r.StatField,
			r.Kind,
			r.Value.String(),
			r.MatchID,
			r.SetAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
