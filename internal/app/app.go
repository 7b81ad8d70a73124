package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lol-match-alerts/internal/config"
	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/notify"
	"lol-match-alerts/internal/poller"
	"lol-match-alerts/internal/ratelimit"
	"lol-match-alerts/internal/riot"
	"lol-match-alerts/internal/rules"
	"lol-match-alerts/internal/stats"
	"lol-match-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *riot.Client {
	limiter := ratelimit.New(a.Config.RateLimit.Requests, a.Config.RateLimit.Window, a.Logger)
	return riot.NewClient(a.Config.Riot, limiter, a.Logger)
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Notifications.Discord.Enabled {
		return notify.NewDiscordNotifier(a.Config.Notifications.Discord, a.Logger)
	}
	a.Logger.Warn().Msg("no notification channel enabled; fired rules print to stdout")
	return &notify.ConsoleNotifier{Out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running polling daemon: the match discovery loop,
// the percentile snapshot refresh loop, and the rule evaluator wired to the
// event bus.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn must be configured to run the daemon")
	}
	defer closeStore()

	ruleSet, err := rules.Load(a.Config.Rules.Path)
	if err != nil {
		return fmt.Errorf("load rules from %s: %w", a.Config.Rules.Path, err)
	}
	a.Logger.Info().Int("rules", len(ruleSet)).Str("path", a.Config.Rules.Path).Msg("rule set loaded")

	client := a.newClient()
	bus := events.NewBus(a.Logger)
	provider := stats.NewProvider(store, a.Logger)

	evaluator := rules.NewEvaluator(ruleSet, store, store, provider, a.newNotifier(), a.Logger)
	evaluator.Register(bus)

	svc := poller.New(store, store, client, bus, a.Config.Polling, a.Config.Riot.RequestTimeout, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		provider.RefreshLoop(gctx, a.Config.Stats.RefreshInterval, a.listEnabledPUUIDs(store))
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})

	a.Logger.Info().Msg("starting match alert daemon")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("match alert daemon stopped")
	return nil
}

func (a *App) listEnabledPUUIDs(players storage.PlayerStore) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		list, err := players.ListPlayers(ctx, true)
		if err != nil {
			return nil, err
		}
		puuids := make([]string, len(list))
		for i, p := range list {
			puuids[i] = p.PUUID
		}
		return puuids, nil
	}
}

// ExportOptions hold parameters for exporting a player's stat history.
type ExportOptions struct {
	PUUID     string
	StatField string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	PUUID string
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	PUUID string
	Since time.Time
	Count int
}

// SimulateOptions configure a rule dry-run against a stored match.
type SimulateOptions struct {
	PUUID   string
	MatchID string
}
