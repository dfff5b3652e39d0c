// Package harness builds relay's components from a [config.Config] and owns
// their lifetime.
//
//	cfg, _ := config.Load(config.Find(root))
//	h, err := harness.New(cfg)
//	if err != nil { ... }
//	defer h.Close()
//	err = h.Serve(ctx)
//
// Everything is constructed once in New and passed explicitly; there is no
// package-level state.
package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/audit"
	"github.com/rickchristie/relay/bus"
	"github.com/rickchristie/relay/config"
	"github.com/rickchristie/relay/events"
	"github.com/rickchristie/relay/executor"
	"github.com/rickchristie/relay/gateway"
	"github.com/rickchristie/relay/hooks"
	"github.com/rickchristie/relay/hooks/builtin"
	"github.com/rickchristie/relay/logging"
	"github.com/rickchristie/relay/models"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// Harness holds every wired component.
type Harness struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Handlers  *hooks.HandlerTable
	Registry  *hooks.Registry
	Observers *events.Registry
	Executor  *executor.Executor
	Bus       *bus.Service
	Recorder  *audit.Recorder
	Feed      *events.Feed
	Gateway   *gateway.Server

	// Watcher is nil when hot reload is disabled.
	Watcher *hooks.Watcher

	// Builtins lists the handler keys registered at start-up.
	Builtins []string

	sinks    []audit.Sink
	closeLog func() error
}

type options struct {
	model  llms.Model
	logger *logrus.Logger
	clock  relay.TimeProvider
}

// Option customizes New.
type Option func(*options)

// WithModel sets the model behind prompt_review instead of building one from
// config.
func WithModel(m llms.Model) Option {
	return func(o *options) { o.model = m }
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTimeProvider sets the clock shared by every component.
func WithTimeProvider(tp relay.TimeProvider) Option {
	return func(o *options) { o.clock = tp }
}

// New builds the harness. On error everything opened so far is closed.
func New(cfg *config.Config, opts ...Option) (*Harness, error) {
	o := options{clock: relay.NewDefaultTimeProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{Config: cfg, closeLog: func() error { return nil }}
	ok := false
	defer func() {
		if !ok {
			h.Close()
		}
	}()

	var err error

	h.Logger = o.logger
	if h.Logger == nil {
		h.Logger, h.closeLog, err = logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
		})
		if err != nil {
			return nil, err
		}
	}
	log := logging.Component(h.Logger, "harness")

	store, err := bus.NewStore(cfg.MessagesFile)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	store.WithLogger(logging.Component(h.Logger, "bus")).WithTimeProvider(o.clock)
	h.Bus = bus.NewService(store).
		WithLogger(logging.Component(h.Logger, "bus")).
		WithTimeProvider(o.clock)

	stats := relay.NewStats()
	model := o.model
	if model == nil {
		model, err = newModel(cfg.Model, log)
		if err != nil {
			return nil, err
		}
	}
	if model != nil {
		model = models.NewTraced(model, cfg.Model.Name).
			WithStats(stats).
			WithTimeProvider(o.clock).
			WithLogger(logging.Component(h.Logger, "model"))
	}

	h.Handlers = hooks.NewHandlerTable()
	h.Builtins = builtin.Register(h.Handlers, builtin.Deps{
		Bus:        h.Bus,
		Model:      model,
		HarnessDir: cfg.HarnessDir,
		TodoPath:   cfg.TodoFile,
		Clock:      o.clock,
		Log:        logging.Component(h.Logger, "builtin"),
	})

	h.Registry = hooks.NewRegistry(h.Handlers).
		WithLogger(logging.Component(h.Logger, "hooks")).
		WithCommandDir(cfg.ProjectRoot)
	if err := h.Registry.Load(cfg.HooksFile); err != nil {
		return nil, fmt.Errorf("loading hooks: %w", err)
	}
	if cfg.Watch() {
		h.Watcher = hooks.NewWatcher(h.Registry, cfg.WatchInterval).
			WithLogger(logging.Component(h.Logger, "watch"))
	}

	if err := h.openSinks(log); err != nil {
		return nil, err
	}
	h.Recorder = audit.NewRecorder(h.sinks...).
		WithLogger(logging.Component(h.Logger, "audit")).
		WithTimeProvider(o.clock)

	h.Feed = events.NewFeed(events.DefaultFeedBuffer).WithTimeProvider(o.clock)
	h.Observers = events.NewRegistry().
		WithLogger(logging.Component(h.Logger, "events")).
		Subscribe(h.Recorder).
		Subscribe(h.Feed)

	h.Executor = executor.New(h.Registry, executor.DefaultConfig()).
		WithEvents(h.Observers).
		WithStats(stats).
		WithTimeProvider(o.clock).
		WithLogger(logging.Component(h.Logger, "executor"))

	h.Gateway = gateway.New(h.Executor, h.Registry, h.Bus).
		WithFeed(h.Feed).
		WithStats(h.Executor.Stats()).
		WithTimeProvider(o.clock).
		WithLogger(logging.Component(h.Logger, "gateway"))

	log.WithFields(logrus.Fields{
		"project_root": cfg.ProjectRoot,
		"hooks":        len(h.Registry.Hooks()),
		"builtins":     len(h.Builtins),
		"audit_sinks":  len(h.sinks),
	}).Info("harness ready")
	ok = true
	return h, nil
}

func (h *Harness) openSinks(log *logrus.Entry) error {
	cfg := h.Config.Audit
	if cfg.SQLitePath != "" {
		sink, err := audit.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening audit database: %w", err)
		}
		h.sinks = append(h.sinks, sink)
	}
	if cfg.Meili.URL != "" {
		sink, err := audit.NewMeiliSink(cfg.Meili.URL, cfg.Meili.Key, cfg.Meili.Index)
		if err != nil {
			// Search is optional; dispatch keeps working without it.
			log.WithError(err).Warn("meilisearch audit sink disabled")
		} else {
			h.sinks = append(h.sinks, sink)
		}
	}
	return nil
}

func newModel(cfg config.ModelConfig, log *logrus.Entry) (llms.Model, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	token := cfg.Token()
	if token == "" {
		log.WithField("token_env", cfg.EnvName()).Warn("model token not set, prompt_review disabled")
		return nil, nil
	}
	return models.New(models.Options{
		Provider: cfg.Provider,
		Name:     cfg.Name,
		Token:    token,
		BaseURL:  cfg.BaseURL,
	})
}

// Payload builds a payload carrying the harness paths.
func (h *Harness) Payload(event relay.HookEvent, role relay.Role, data map[string]any) relay.HookPayload {
	p := relay.NewPayload(event, role, data)
	p.Session.ProjectRoot = h.Config.ProjectRoot
	p.Harness = relay.HarnessInfo{Dir: h.Config.HarnessDir, TodoPath: h.Config.TodoFile}
	return p
}

// Serve listens on the configured address. See ServeListener.
func (h *Harness) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.Config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.Config.Listen, err)
	}
	return h.ServeListener(ctx, ln)
}

// ServeListener runs the gateway on ln together with the hook watcher and
// the audit drain until ctx is done or one of them fails.
func (h *Harness) ServeListener(ctx context.Context, ln net.Listener) error {
	log := logging.Component(h.Logger, "harness")
	srv := &http.Server{
		Handler:           h.Gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Recorder.Run(gctx)
	})
	if h.Watcher != nil {
		g.Go(func() error {
			return h.Watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		log.WithField("addr", ln.Addr().String()).Info("gateway listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Event streams only end when their feed closes.
		h.Feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		log.Info("gateway stopped")
		return nil
	})
	return g.Wait()
}

// Close stops the audit recorder and releases sinks and the log file.
func (h *Harness) Close() error {
	var errs []error
	if h.Recorder != nil {
		h.Recorder.Close()
	}
	if h.Feed != nil {
		h.Feed.Close()
	}
	for _, s := range h.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.sinks = nil
	if h.closeLog != nil {
		if err := h.closeLog(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
