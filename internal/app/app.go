package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whale-alerts/internal/alerting"
	"whale-alerts/internal/analysis"
	"whale-alerts/internal/config"
	"whale-alerts/internal/feed"
	"whale-alerts/internal/metrics"
	"whale-alerts/internal/pipeline"
	"whale-alerts/internal/scheduler"
	"whale-alerts/internal/service"
	"whale-alerts/internal/social"
	"whale-alerts/internal/storage"
	"whale-alerts/internal/version"
)

// ErrLockHeld is returned when another instance owns the advisory lock.
var ErrLockHeld = errors.New("another whalewatch instance holds the advisory lock")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newHTTPClient builds the pooled client shared by every outbound API.
// Deadlines are applied per call through contexts.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: transport}
}

func (a *App) newFeed(m *metrics.Metrics) (*feed.Client, error) {
	cfg := a.Config.Feed
	return feed.NewClient(feed.Options{
		URL:    cfg.URL,
		APIKey: cfg.APIKey,
		Subscription: feed.Subscription{
			Blockchains: cfg.Blockchains,
			Symbols:     cfg.Symbols,
			MinValueUSD: cfg.MinValueUSD,
		},
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		SubscribeTimeout: cfg.SubscribeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		QueueSize:        cfg.QueueSize,
	}, a.Logger, feed.WithMetrics(m))
}

func (a *App) newNotifier(client *http.Client) *alerting.TelegramNotifier {
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(alerting.TelegramOptions{
		BotToken:      cfg.BotToken,
		ChatID:        cfg.ChatID,
		APIBase:       cfg.APIBase,
		ParseMode:     cfg.ParseMode,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}, client, a.Logger)
}

func (a *App) newWorkflow(client *http.Client, store storage.DeliveryStore, m *metrics.Metrics) *service.Service {
	sc := a.Config.Social
	twitter := social.NewTwitter(social.Options{
		BearerToken:   sc.BearerToken,
		BaseURL:       sc.BaseURL,
		MaxResults:    sc.MaxResults,
		Timeout:       sc.Timeout,
		RatePerMinute: sc.RatePerMinute,
	}, client, a.Logger, m)

	mc := a.Config.Model
	model := analysis.NewModel(analysis.Options{
		APIKey:      mc.APIKey,
		BaseURL:     mc.BaseURL,
		ModelID:     mc.ModelID,
		MaxTokens:   mc.MaxTokens,
		Temperature: mc.Temperature,
		Timeout:     mc.Timeout,
	}, client, a.Logger, m)

	return service.New(service.Options{
		ModelName:     model.Name(),
		SocialEnabled: a.Config.SocialEnabled(),
		DisplayLength: sc.DisplayLength,
	}, twitter, model, a.newNotifier(client), store, a.Logger, m)
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

// openAuditStore opens the store, creates the schema and takes the
// single-instance lock. All returned values are nil when no DSN is set.
func (a *App) openAuditStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil || store == nil {
		return nil, nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}

	unlock, err := lockInstance(ctx, store, a.Config.Database.AdvisoryLockKey)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return store, func() {
		unlock()
		closeStore()
	}, nil
}

// lockInstance takes the session-level advisory lock; key 0 disables it.
func lockInstance(ctx context.Context, locker storage.AdvisoryLocker, key int64) (func(), error) {
	if key == 0 {
		return func() {}, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}
	return unlock, nil
}

func (a *App) logBanner() {
	cfg := a.Config
	socialState := "Disabled"
	if cfg.SocialEnabled() {
		socialState = "Enabled"
	}
	a.Logger.Info().
		Str("version", version.Version).
		Str("symbols", feed.Subscription{Symbols: cfg.Feed.Symbols}.DisplaySymbols()).
		Strs("blockchains", cfg.Feed.Blockchains).
		Int64("min_value_usd", cfg.Feed.MinValueUSD).
		Str("model", cfg.Model.ModelID).
		Str("model_endpoint", cfg.Model.BaseURL).
		Str("social_context", socialState).
		Str("target_chat", cfg.Telegram.ChatID).
		Int("max_in_flight", cfg.Pipeline.MaxInFlight).
		Msg("starting whale alerter")
}

// Run executes the long-running alerter until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateRuntime(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	store, closeStore, err := a.openAuditStore(ctx)
	if err != nil {
		return err
	}
	var deliveries storage.DeliveryStore
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; delivery audit disabled")
	} else {
		deliveries = store
		defer closeStore()
	}

	feedClient, err := a.newFeed(m)
	if err != nil {
		return err
	}

	client := newHTTPClient()
	defer client.CloseIdleConnections()

	svc := a.newWorkflow(client, deliveries, m)
	pipe := pipeline.New(pipeline.Options{
		MaxInFlight:  a.Config.Pipeline.MaxInFlight,
		DrainTimeout: a.Config.Pipeline.DrainTimeout,
	}, svc, a.Logger, m)

	a.logBanner()

	g, gctx := errgroup.WithContext(ctx)
	alerts := feedClient.Stream(gctx)
	g.Go(func() error {
		return pipe.Run(gctx, alerts)
	})

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return m.Serve(gctx, addr, a.Logger)
		})
	}

	if store != nil && a.Config.Audit.Retention > 0 {
		retention := scheduler.NewRetention(store, a.Config.Audit.Retention, a.Logger)
		sched := scheduler.New("audit_retention", scheduler.Options{
			Interval:   a.Config.Audit.PruneInterval,
			RunAtStart: true,
		}, a.Logger)
		g.Go(func() error {
			return sched.Run(gctx, retention.Tick)
		})
	}

	err = g.Wait()
	stats := pipe.Stats()
	a.Logger.Info().
		Uint64("dispatched", stats.Dispatched).
		Uint64("completed", stats.Completed).
		Uint64("failed", stats.Failed).
		Uint64("dropped", stats.Dropped).
		Str("feed_state", feedClient.State()).
		Msg("alerter stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("alerter terminated with error")
		return err
	}
	return nil
}

// ExportOptions hold parameters for exporting delivery history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// Symbol restricts the export to one asset; empty exports all.
	Symbol string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	FailedOnly bool
}

// PruneOptions configure a manual retention run.
type PruneOptions struct {
	Before *time.Time
}

// SimulateOptions describe one synthetic alert.
type SimulateOptions struct {
	Symbol     string
	Blockchain string
	Amount     string
	ValueUSD   string
	From       string
	To         string
}
