// Package app wires the gesture control service together: configuration,
// the actuation backend, the gating pipeline and its observers, the TCP
// ingestion server and the HTTP control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/hasta/internal/config"
	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/homeassistant"
	"github.com/ayusman/hasta/internal/ingest"
	"github.com/ayusman/hasta/internal/pipeline"
	"github.com/ayusman/hasta/internal/plugin"
	"github.com/ayusman/hasta/internal/server"
	"github.com/ayusman/hasta/internal/stats"
	"github.com/ayusman/hasta/internal/store"
)

// DefaultShutdownTimeout bounds the graceful stop of both listeners.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultPluginDir is used when the actuator section names no plugin_dir.
const DefaultPluginDir = "plugins"

// Config holds the application configuration.
type Config struct {
	// ConfigPath is the YAML configuration file. Required.
	ConfigPath string
	Logger     *zap.Logger
	// Actuator replaces the backend selected by the configuration file.
	Actuator dispatch.Actuator
	// IngestAddr and WebAddr override the configured listen addresses.
	IngestAddr string
	WebAddr    string
	// StaticDir is served when web.static_dir is empty.
	StaticDir       string
	ShutdownTimeout time.Duration
}

// App is the assembled service.
type App struct {
	logger          *zap.Logger
	configs         *config.Manager
	pipeline        *pipeline.Pipeline
	store           *store.Store
	events          *server.EventHub
	ingest          *ingest.Server
	staticDir       string
	ingestAddr      string
	webAddr         string
	shutdownTimeout time.Duration

	mu       sync.Mutex
	ingestLn net.Listener
	webLn    net.Listener
	http     *http.Server
}

// New loads the configuration and builds every component. Nothing listens
// until Listen or Run is called.
func New(cfg Config) (*App, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("config path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	configs := config.NewManager(cfg.ConfigPath, logger.Named("config"))
	if err := configs.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	file := configs.File()

	actuator := cfg.Actuator
	if actuator == nil {
		var err error
		if actuator, err = newActuator(file, logger); err != nil {
			return nil, err
		}
	}

	a := &App{
		logger:          logger,
		configs:         configs,
		staticDir:       firstNonEmpty(file.Web.StaticDir, cfg.StaticDir),
		ingestAddr:      firstNonEmpty(cfg.IngestAddr, file.Socket.Addr()),
		webAddr:         firstNonEmpty(cfg.WebAddr, file.Web.Addr),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	a.pipeline = pipeline.New(pipeline.Config{
		Snapshots: configs.Holder(),
		Dispatcher: dispatch.New(dispatch.Config{
			Actuator: actuator,
			Logger:   logger.Named("dispatch"),
		}),
		Logger: logger.Named("pipeline"),
	})
	a.pipeline.Register("log", logObserver(logger.Named("events")))

	if file.History.Enabled {
		path, err := historyPath(file.History.Path)
		if err != nil {
			return nil, err
		}
		db, err := store.New(path)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		logger.Info("History store opened", zap.String("path", db.Path()))
		a.store = db
		a.pipeline.Register("history", store.NewRecorder(db, logger.Named("history")))
	}

	a.events = server.NewEventHub(logger.Named("ws"))
	a.pipeline.Register("websocket", a.events)
	configs.OnChange(func(f *config.File) {
		a.events.Broadcast(server.EventConfigUpdated, summarize(f))
	})

	a.ingest = ingest.New(ingest.Config{
		Addr:    a.ingestAddr,
		Handler: a.pipeline,
		Logger:  logger.Named("ingest"),
	})
	return a, nil
}

// newActuator builds the backend named by the actuator section.
func newActuator(file *config.File, logger *zap.Logger) (dispatch.Actuator, error) {
	switch file.Actuator.Type {
	case config.ActuatorPlugin:
		dir := firstNonEmpty(file.Actuator.PluginDir, DefaultPluginDir)
		mgr := plugin.NewManager(dir, logger.Named("plugins"))
		if err := mgr.Discover(); err != nil {
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		if _, err := mgr.Get(file.Actuator.Plugin); err != nil {
			logger.Warn("Configured plugin not found", zap.String("plugin", file.Actuator.Plugin), zap.String("dir", dir))
		}
		timeout := time.Duration(file.Actuator.TimeoutMs) * time.Millisecond
		return plugin.NewActuator(mgr, plugin.NewExecutor(timeout), file.Actuator.Plugin, logger.Named("plugin")), nil
	default:
		token, err := homeassistant.LoadToken(file.HomeAssistant.TokenEnvVar, logger)
		if err != nil {
			return nil, err
		}
		return homeassistant.New(homeassistant.Config{
			URL:     file.HomeAssistant.MCPURL,
			Token:   token,
			Timeout: file.HomeAssistant.Timeout(),
			Logger:  logger.Named("homeassistant"),
		})
	}
}

// Listen binds the ingestion and HTTP listeners. It is a no-op once bound.
func (a *App) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ingestLn != nil {
		return nil
	}

	ingestLn, err := a.ingest.Listen()
	if err != nil {
		return fmt.Errorf("bind socket server %s: %w", a.ingestAddr, err)
	}
	webLn, err := net.Listen("tcp", a.webAddr)
	if err != nil {
		ingestLn.Close()
		return fmt.Errorf("bind web server %s: %w", a.webAddr, err)
	}

	api := server.New(server.Config{
		StaticDir:  a.staticDir,
		Pipeline:   a.pipeline,
		Configs:    a.configs,
		Store:      a.store,
		Events:     a.events,
		IngestAddr: ingestLn.Addr().String(),
		Logger:     a.logger.Named("http"),
	})
	a.ingestLn = ingestLn
	a.webLn = webLn
	a.http = api.HTTPServer(a.webAddr)
	return nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts both
// servers down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		return err
	}

	if a.pipeline.TestConnection(ctx) {
		a.logger.Info("Actuator reachable")
	} else {
		a.logger.Warn("Actuator not reachable, actions will fail until it is")
	}

	a.mu.Lock()
	ingestLn, webLn, httpSrv := a.ingestLn, a.webLn, a.http
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.ingest.Serve(ingestLn); !errors.Is(err, ingest.ErrServerClosed) {
			return fmt.Errorf("socket server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("Web server listening", zap.String("addr", webLn.Addr().String()))
		if err := httpSrv.Serve(webLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(httpSrv)
	})
	return g.Wait()
}

// shutdown stops the servers. Websocket connections are hijacked and not
// tracked by http.Server, so the hub is closed first.
func (a *App) shutdown(httpSrv *http.Server) error {
	a.logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.events.Close()

	var errs []error
	if err := a.ingest.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("socket server shutdown: %w", err))
	}
	if err := httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("web server shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases the history store. Call it after Run returns.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Reload re-reads the configuration file.
func (a *App) Reload() error {
	return a.configs.Reload()
}

// Stats returns the pipeline counters.
func (a *App) Stats() stats.Counters {
	return a.pipeline.Stats()
}

// Pipeline returns the gesture pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Configs returns the configuration manager.
func (a *App) Configs() *config.Manager {
	return a.configs
}

// IngestAddr returns the bound socket server address, or nil before Listen.
func (a *App) IngestAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ingestLn == nil {
		return nil
	}
	return a.ingestLn.Addr()
}

// WebAddr returns the bound web server address, or nil before Listen.
func (a *App) WebAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.webLn == nil {
		return nil
	}
	return a.webLn.Addr()
}

// historyPath returns path, or ~/.hasta/history.db when it is empty.
func historyPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve history path: %w", err)
	}
	return filepath.Join(home, ".hasta", "history.db"), nil
}

type configSummary struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	CooldownSeconds     float64 `json:"cooldown_seconds"`
	MinHoldTime         float64 `json:"min_hold_time"`
	Mappings            int     `json:"mappings"`
}

func summarize(f *config.File) configSummary {
	return configSummary{
		ConfidenceThreshold: f.Recognition.ConfidenceThreshold,
		CooldownSeconds:     f.Recognition.CooldownSeconds,
		MinHoldTime:         f.Recognition.MinHoldTime,
		Mappings:            len(f.Mappings),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
