// Package app wires the workspace store, tab registry, gRPC backend and
// session manager into one application and owns their lifecycle.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"fyne.io/fyne/v2"
	"github.com/shhac/grpcdesk/internal/callconfig"
	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/shhac/grpcdesk/internal/events"
	"github.com/shhac/grpcdesk/internal/grpc"
	"github.com/shhac/grpcdesk/internal/logging"
	"github.com/shhac/grpcdesk/internal/session"
	"github.com/shhac/grpcdesk/internal/storage"
	"github.com/shhac/grpcdesk/internal/tabs"
	"github.com/shhac/grpcdesk/internal/telemetry"
	"github.com/shhac/grpcdesk/internal/workspace"
)

const (
	appName    = "grpcdesk"
	sqliteFile = "grpcdesk.db"
)

// Options carries host-provided collaborators.
type Options struct {
	// LogMirror also receives human-readable logs, e.g. os.Stderr.
	LogMirror io.Writer
	// Preferences backs the preferences storage backend. Desktop hosts
	// pass fyne.App.Preferences().
	Preferences fyne.Preferences
	// Logger replaces the file logger entirely.
	Logger *slog.Logger
	// Backend replaces the gRPC backend.
	Backend session.Backend
	// OnUnresolved is notified when a call leaves placeholders unresolved.
	OnUnresolved session.UnresolvedFunc
	// TelemetryOptions are passed to telemetry.Setup.
	TelemetryOptions []telemetry.Option
}

// App is the main application coordinator, responsible for wiring
// together all components and managing their lifecycle.
type App struct {
	config    *Config
	logger    *slog.Logger
	kv        storage.KV
	store     *workspace.Store
	tabs      *tabs.Registry
	bus       *events.Bus
	backend   session.Backend
	grpc      *grpc.Backend
	sessions  *session.Manager
	telemetry *telemetry.Provider

	closers []func() error
}

// New creates a new App instance with the given configuration.
// This performs all dependency injection and wiring.
func New(ctx context.Context, cfg *Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a = &App{config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if opts.Logger != nil {
		a.logger = opts.Logger
	} else {
		logger, closeLog, err := logging.InitLogger(logging.Options{
			AppName: appName,
			Path:    cfg.LogPath,
			Debug:   cfg.Debug,
			Mirror:  opts.LogMirror,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closeLog)
	}

	a.logger.Info("initializing grpcdesk",
		slog.Bool("debug", cfg.Debug),
		slog.String("storage", cfg.StorageBackend),
		slog.String("storage_path", cfg.StoragePath),
	)

	if a.kv, err = a.openStorage(opts.Preferences); err != nil {
		return nil, err
	}

	a.telemetry, err = telemetry.Setup(cfg.Telemetry, opts.TelemetryOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	a.store = workspace.NewStore(a.kv, a.logger, workspace.Options{HistoryLimit: cfg.HistoryLimit})
	if err := a.store.Load(); err != nil {
		return nil, err
	}

	a.tabs = tabs.NewRegistry(a.logger)
	a.bus = events.NewBus(0)

	a.backend = opts.Backend
	if a.backend == nil {
		conns := grpc.NewConnectionManager(a.logger)
		conns.SetStateCallback(func(address string, state grpc.ConnectionState, message string) {
			a.logger.Debug("connection state changed",
				slog.String("address", address),
				slog.String("state", state.String()),
				slog.String("message", message))
		})
		a.grpc = grpc.NewBackend(conns, a.bus, a.logger)
		a.backend = a.grpc
	}

	a.sessions = session.NewManager(a.backend, a.bus, a.tabs, a.store, a.logger, session.Options{
		CallConfig:   callconfig.Options{DefaultPort: cfg.DefaultPort},
		Tracer:       a.telemetry.Tracer(),
		OnUnresolved: opts.OnUnresolved,
	})
	if err := <-a.sessions.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session manager: %w", err)
	}

	// Tabs belong to the workspace they were opened in.
	a.store.OnSwitch(func(prev, next string) {
		a.logger.Debug("workspace switched", slog.String("from", prev), slog.String("to", next))
		a.sessions.Reset()
	})

	if cfg.Workspace != "" && a.store.ActiveID() == "" {
		if _, err := a.store.OpenOrCreate(cfg.Workspace); err != nil {
			return nil, fmt.Errorf("failed to open workspace %q: %w", cfg.Workspace, err)
		}
	}

	a.logger.Info("application initialized successfully")
	return a, nil
}

func (a *App) openStorage(prefs fyne.Preferences) (storage.KV, error) {
	if a.config.StorageBackend == StorageMemory {
		return storage.NewMemoryKV(), nil
	}
	if a.config.StorageBackend == StoragePreferences {
		if prefs == nil {
			return nil, fmt.Errorf("storage backend %q needs a desktop host", StoragePreferences)
		}
		return storage.NewPreferencesKV(prefs), nil
	}

	storagePath := a.config.StoragePath
	if storagePath == "" {
		var err error
		storagePath, err = storage.DefaultStoragePath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine storage path: %w", err)
		}
		a.config.StoragePath = storagePath
	}

	if a.config.StorageBackend == StorageSQLite {
		kv, err := storage.OpenSQLiteKV(filepath.Join(storagePath, sqliteFile), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		return kv, nil
	}
	return storage.NewFileKV(storagePath, a.logger), nil
}

// Close stops the session manager, closes connections and flushes
// telemetry. It is safe to call on a partially constructed App.
func (a *App) Close() error {
	var errs []error
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.grpc != nil {
		if err := a.grpc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		a.logger.Info("application shutdown complete")
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// Config returns the effective configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Store returns the workspace store.
func (a *App) Store() *workspace.Store {
	return a.store
}

// Tabs returns the tab registry.
func (a *App) Tabs() *tabs.Registry {
	return a.tabs
}

// Sessions returns the call session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Events returns the stream event bus.
func (a *App) Events() *events.Bus {
	return a.bus
}

// ListServices discovers the services exposed at endpoint.
func (a *App) ListServices(ctx context.Context, endpoint domain.Endpoint, tls domain.TLSConfig) ([]domain.Service, error) {
	if a.grpc == nil {
		return nil, fmt.Errorf("service discovery needs the gRPC backend")
	}
	return a.grpc.ListServices(ctx, endpoint, tls)
}
