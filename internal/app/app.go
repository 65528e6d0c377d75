// Package app wires the claudit components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/autostart"
	"github.com/psurma/claudit/internal/config"
	"github.com/psurma/claudit/internal/cost"
	"github.com/psurma/claudit/internal/history"
	"github.com/psurma/claudit/internal/metrics"
	"github.com/psurma/claudit/internal/notify"
	"github.com/psurma/claudit/internal/orchestrator"
	"github.com/psurma/claudit/internal/panel"
	"github.com/psurma/claudit/internal/store"
	"github.com/psurma/claudit/internal/update"
	"github.com/psurma/claudit/internal/web"
)

// DefaultDisplay seeds panel positioning until the UI reports its monitors.
var DefaultDisplay = panel.Display{Width: 1920, Height: 1080, ScaleFactor: 1}

// App holds the process-wide components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Metrics      *metrics.Collector
	Store        *store.Store
	Credentials  api.CredentialProvider
	Usage        *api.UsageClient
	Costs        *cost.Client
	Cache        *cost.Cache
	History      *history.Store
	Orchestrator *orchestrator.Orchestrator
	Events       *web.Hub
	Displays     *panel.DisplayList
	Window       panel.Window
	Panel        *panel.Machine
	Notifier     *notify.Engine
	Autostart    autostart.Manager
	Updater      *update.Updater

	// path watched for credential refreshes; empty disables the watcher
	credentialsPath string
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	credentials api.CredentialProvider
	sender      notify.Sender
	window      panel.Window
	autostart   autostart.Manager
	costOpts    []cost.Option
}

// WithCredentials overrides the credential provider.
func WithCredentials(p api.CredentialProvider) Option {
	return func(o *options) { o.credentials = p }
}

// WithSender overrides the reminder sender.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithWindow overrides the panel window.
func WithWindow(w panel.Window) Option {
	return func(o *options) { o.window = w }
}

// WithAutostart overrides the login item manager.
func WithAutostart(m autostart.Manager) Option {
	return func(o *options) { o.autostart = m }
}

// WithCostOptions appends cost client options.
func WithCostOptions(opts ...cost.Option) Option {
	return func(o *options) { o.costOpts = append(o.costOpts, opts...) }
}

// New builds every component from cfg. Close releases the store.
func New(cfg *config.Config, version string, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		Metrics: metrics.New(nil),
		Store:   db,
		Events:  web.NewHub(32),
	}

	a.Credentials = o.credentials
	switch {
	case a.Credentials != nil:
	case cfg.AnthropicToken != "":
		a.Credentials = api.StaticToken(cfg.AnthropicToken)
		logger.Info("Using explicit token", "token", api.RedactToken(cfg.AnthropicToken))
	default:
		a.Credentials = api.DefaultProvider(logger)
		a.credentialsPath = api.CredentialsFilePath()
	}

	a.Usage = api.NewUsageClient(logger,
		api.WithUsageBaseURL(cfg.UsageURL),
		api.WithUsageTimeout(cfg.UsageTimeout),
	)

	costOpts := []cost.Option{cost.WithMetrics(a.Metrics)}
	if cfg.CcusagePath != "" {
		costOpts = append(costOpts, cost.WithPath(cfg.CcusagePath))
	}
	a.Costs = cost.NewClient(logger, append(costOpts, o.costOpts...)...)
	a.Cache = cost.NewCache()
	a.History = history.New(cfg.DataDir, logger, a.Metrics)
	a.Orchestrator = orchestrator.New(a.Usage, a.Costs, a.Cache, a.History, logger,
		orchestrator.WithTimeouts(cfg.UsageTimeout, cfg.CostTimeout),
		orchestrator.WithMetrics(a.Metrics),
	)

	stayOnTop, err := db.GetBool(store.KeyStayOnTop, false)
	if err != nil {
		logger.Warn("stay-on-top preference unreadable, using default", "error", err)
	}
	a.Window = o.window
	if a.Window == nil {
		a.Window = panel.NewHeadlessWindow()
	}
	a.Displays = panel.NewDisplayList(DefaultDisplay)
	a.Panel = panel.New(a.Window, a.Displays, logger,
		panel.WithEmitter(func(ev panel.Event) { a.Events.Publish(string(ev), nil) }),
		panel.WithStayOnTop(stayOnTop),
		panel.WithMetrics(a.Metrics),
	)

	sender := o.sender
	if sender == nil {
		sender = notify.NewCommandSender(runtime.GOOS)
	}
	a.Notifier = notify.New(a.Credentials, a.Usage, db, sender, logger, a.Metrics)

	a.Autostart = o.autostart
	if a.Autostart == nil {
		if a.Autostart, err = autostart.Default(runtime.GOOS); err != nil {
			logger.Warn("autostart unavailable", "error", err)
			a.Autostart = autostart.New("", "", "")
		}
	}

	a.Updater = update.NewUpdater(version, logger)
	return a, nil
}

// Data runs one aggregation with the current credential.
func (a *App) Data(ctx context.Context) *orchestrator.Result {
	token, err := a.Credentials.Token(ctx)
	return a.Orchestrator.Run(ctx, token, err)
}

// CostsOnly runs a cost-only aggregation.
func (a *App) CostsOnly(ctx context.Context) *orchestrator.CostResult {
	return a.Orchestrator.Costs(ctx)
}

// dataSource adapts App to web.DataSource.
type dataSource struct{ a *App }

func (d dataSource) Data(ctx context.Context) *orchestrator.Result {
	return d.a.Data(ctx)
}

func (d dataSource) Costs(ctx context.Context) *orchestrator.CostResult {
	return d.a.CostsOnly(ctx)
}

// Handler builds the HTTP handler over the app's components.
func (a *App) Handler() *web.Handler {
	return web.NewHandler(web.Deps{
		Data:          dataSource{a},
		Panel:         a.Panel,
		Displays:      a.Displays,
		Prefs:         a.Store,
		Notifications: a.Notifier,
		Autostart:     a.Autostart,
		Updater:       a.Updater,
		Events:        a.Events,
	}, a.logger)
}

// Serve runs the HTTP API, the reminder scheduler and the credentials
// watcher until ctx is done or the listener fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	sched, err := notify.NewScheduler(a.Notifier, a.cfg.NotifySchedule, a.logger)
	if err != nil {
		return err
	}

	srv := web.NewServer(a.cfg.Addr(), a.Handler(), a.Metrics.Handler(), a.logger)

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return err
	}
	defer sched.Stop()

	if a.credentialsPath != "" {
		g.Go(func() error {
			err := api.WatchCredentialsFile(gctx, a.credentialsPath, a.logger, func() {
				a.Events.Publish(web.EventUsageRefresh, nil)
			})
			if err != nil {
				// a missing ~/.claude is not fatal
				a.logger.Warn("credentials watcher disabled", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases resources.
func (a *App) Close() error {
	return a.Store.Close()
}
