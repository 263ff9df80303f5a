package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chordd/internal/bus"
	"chordd/internal/chord"
	"chordd/internal/config"
	"chordd/internal/device"
	"chordd/internal/health"
	"chordd/internal/inject"
	"chordd/internal/library"
	"chordd/internal/logging"
	"chordd/internal/metrics"
	"chordd/internal/timing"
)

const crashRetention = 30 * 24 * time.Hour

type runOptions struct {
	libraryPath string
	dryRun      bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen to every keyboard and expand chords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, opts.loader(), ro)
		},
	}

	cmd.Flags().StringVarP(&ro.libraryPath, "library", "l", "", "chord library file (overrides library.path)")
	cmd.Flags().BoolVar(&ro.dryRun, "dry-run", false, "log expansions instead of typing them")
	return cmd
}

// loadRunConfig loads the config and applies the run flags.
func loadRunConfig(loader *config.Loader, ro *runOptions) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return ro.apply(cfg), nil
}

// apply returns a copy of cfg with the command-line overrides.
func (ro *runOptions) apply(cfg *config.Config) *config.Config {
	cfg = cfg.Clone()
	if ro.libraryPath != "" {
		cfg.Library.Path = ro.libraryPath
	}
	if ro.dryRun {
		cfg.Inject.Backend = "log"
	}
	return cfg
}

func runDaemon(ctx context.Context, loader *config.Loader, ro *runOptions) error {
	cfg, err := loadRunConfig(loader, ro)
	if err != nil {
		return err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	for _, w := range loader.Warnings() {
		logger.Warn("config warning", "field", w.Field, "message", w.Message)
	}

	crash := logging.NewCrashHandler("", Version, logger.Logger)
	defer crash.Repanic("main")
	if n, err := crash.CleanupOldCrashReports(crashRetention); err == nil && n > 0 {
		logger.Debug("removed old crash reports", "count", n)
	}

	registry := metrics.NewRegistry("chordd", "")
	engineMetrics := metrics.NewEngineMetrics(registry)

	mux, err := device.Open(
		device.WithLogger(logger.WithComponent("device").Logger),
		device.WithMetrics(engineMetrics),
	)
	if err != nil {
		return fmt.Errorf("open keyboards: %w", err)
	}
	defer mux.Close()
	for _, d := range mux.Devices() {
		logger.Info("listening", "device", d.Path, "name", d.Name)
	}

	store, err := library.OpenStore(cfg.Library.Path,
		library.WithLogger(logger.WithComponent("library").Logger))
	if err != nil {
		return fmt.Errorf("load chord library: %w", err)
	}
	lib := store.Library()
	logger.Info("chord library loaded",
		"path", cfg.Library.Path,
		"name", lib.Meta.Name,
		"entries", lib.Len())

	out, err := newOutput(cfg, logger.WithComponent("inject").Logger)
	if err != nil {
		return err
	}

	dispatcher := inject.NewDispatcher(store, out, cfg.Inject.QueueSize,
		inject.WithLogger(logger.WithComponent("inject").Logger),
		inject.WithMetrics(engineMetrics),
		inject.WithKeyNames(device.KeyName),
	)

	sinks := chord.MultiSink{dispatcher}
	if cfg.Bus.Enabled {
		pub, err := bus.Connect(registry,
			bus.WithLogger(logger.WithComponent("bus").Logger),
			bus.WithKeyNames(device.KeyName))
		if err != nil {
			logger.Warn("D-Bus publisher disabled", "error", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
			logger.Info("publishing chords on the session bus", "name", bus.BusName)
		}
	}

	analyzer := timing.New(cfg.Timing())
	engine := chord.NewEngine(analyzer, sinks,
		chord.WithLogger(logger.WithComponent("chord").Logger),
		chord.WithMetrics(engineMetrics),
	)

	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		crash.Go(name, func() {
			defer wg.Done()
			fn()
		})
	}

	spawn("dispatcher", func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", "error", err)
		}
	})

	if cfg.Library.Watch {
		spawn("library-watch", func() {
			if err := store.Watch(ctx); err != nil {
				logger.Warn("library hot reload disabled", "error", err)
			}
		})
	}

	watchConfig(ctx, loader, cfg, ro, logger, spawn)

	checker := newChecker(cfg, engineMetrics, store)

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			logger.Warn("metrics endpoint disabled", "listen", cfg.Metrics.Listen, "error", err)
		} else {
			logger.Info("serving metrics", "addr", ln.Addr().String())
			spawn("metrics", func() { serveMetrics(ctx, ln, registry, checker, logger.Logger) })
		}
	}

	logger.Info("chordd started",
		"version", Version,
		"backend", cfg.Inject.Backend,
		"chord_window", analyzer.AdjustedChordWindow())
	checker.SetReady(true)

	err = mux.Listen(ctx, func(code uint16, pressed bool) {
		engine.HandleKey(chord.Key(code), pressed)
	})

	dispatcher.Close()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		logger.Info("chordd stopped")
		return nil
	}
	return err
}

// newOutput builds the injection backend named by the config.
func newOutput(cfg *config.Config, logger *slog.Logger) (inject.Output, error) {
	switch cfg.Inject.Backend {
	case "log":
		return inject.LogOutput{Logger: logger}, nil
	case "ydotool":
		y := inject.NewYdotool(cfg.Inject.SocketPath)
		if cfg.Inject.StartDaemon {
			if err := y.EnsureDaemon(); err != nil {
				return nil, err
			}
		}
		return y, nil
	default:
		return nil, fmt.Errorf("unknown injection backend %q", cfg.Inject.Backend)
	}
}

// watchConfig follows config file edits. The log level applies
// immediately; everything else is reported as needing a restart.
func watchConfig(ctx context.Context, loader *config.Loader, current *config.Config, ro *runOptions, logger *logging.Logger, spawn func(string, func())) {
	var mu sync.Mutex
	loader.OnChange(func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		next = ro.apply(next)

		if level, err := logging.ParseLevel(next.Logging.Level); err == nil && level != logger.Level() {
			logger.SetLevel(level)
			logger.Info("log level changed", "level", logging.LevelString(level))
		}
		if changed := restartRequired(current, next); len(changed) > 0 {
			logger.Warn("config changed; restart chordd to apply", "sections", changed)
		}
	})

	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
		return
	}

	spawn("config-watch", func() {
		defer loader.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload failed, keeping previous", "error", err)
			}
		}
	})
}

// restartRequired lists the config sections that differ between a and b
// and cannot change while running.
func restartRequired(a, b *config.Config) []string {
	var changed []string
	if a.Chord != b.Chord {
		changed = append(changed, "chord")
	}
	if a.Library.Path != b.Library.Path || a.Library.Watch != b.Library.Watch {
		changed = append(changed, "library")
	}
	if a.Inject != b.Inject {
		changed = append(changed, "inject")
	}
	if a.Bus != b.Bus {
		changed = append(changed, "bus")
	}
	if a.Metrics != b.Metrics {
		changed = append(changed, "metrics")
	}
	la, lb := a.Logging, b.Logging
	la.Level, lb.Level = "", ""
	if la != lb {
		changed = append(changed, "logging")
	}
	return changed
}

// newChecker registers the health checks that apply to cfg.
func newChecker(cfg *config.Config, m *metrics.EngineMetrics, store *library.Store) *health.Checker {
	checker := health.NewChecker()
	checker.Register("devices", true, health.DevicesCheck(m.ActiveDevices))
	checker.Register("library", false, health.LibraryCheck(func() int { return store.Library().Len() }))
	if cfg.Inject.Backend == "ydotool" {
		checker.Register("ydotool", true, health.SocketCheck(cfg.Inject.SocketPath))
	}
	return checker
}

func serveMetrics(ctx context.Context, ln net.Listener, registry *metrics.Registry, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.HTTPHandler())
	checker.Mount(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
