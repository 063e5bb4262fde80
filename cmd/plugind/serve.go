package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leeforge/lifecycle/config"
	"github.com/leeforge/lifecycle/coordinator"
	"github.com/leeforge/lifecycle/introspect"
	"github.com/leeforge/lifecycle/lifecycle"
	"github.com/leeforge/lifecycle/logging"
	"github.com/leeforge/lifecycle/metrics"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/leeforge/lifecycle/runtime"
	"github.com/leeforge/lifecycle/uithread"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type serveOptions struct {
	addr     string
	readOnly bool
	watch    bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve the introspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root.configOptions(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default introspect.addr)")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "reject enable and disable requests")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "log configuration changes")
	return cmd
}

// daemon is everything serve wires together.
type daemon struct {
	logger   logging.Logger
	registry *prometheus.Registry
	loop     *uithread.Loop
	runtime  *runtime.Runtime
	coord    *coordinator.Coordinator
	server   *introspect.Server
}

func newDaemon(settings *config.Settings, cfg *config.Config, readOnly bool) (*daemon, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	logger := logging.WithHooks(logging.NewLogger(settings.Log), func(e zapcore.Entry) {
		collector.ObserveLogEntry(e.Level.String())
	})
	logging.SetGlobal(logger)
	zl := logger.Zap()

	loop := uithread.NewLoop(uithread.Config{
		QueueSize:    settings.UIThread.QueueSize,
		Logger:       zl.Named("uithread"),
		LockOSThread: settings.UIThread.LockOSThread,
	})
	mgr := lifecycle.NewManager(lifecycle.Config{
		Logger:     zl.Named("lifecycle"),
		Dispatcher: loop,
		Metrics:    collector,
	})
	rt := runtime.NewRuntime(runtime.Config{
		Manager:        mgr,
		Logger:         zl.Named("runtime"),
		Settings:       cfg.Sub("plugins.settings"),
		UIReadyTimeout: settings.Lifecycle.UIReadyTimeout,
	})
	coord := coordinator.New(coordinator.Config{
		Registry:   rt,
		Logger:     zl.Named("coordinator"),
		Metrics:    collector,
		PoolSize:   settings.Coordinator.PoolSize,
		Dispatcher: loop,
	})
	rt.SetCoordinator(coord)

	server := introspect.NewServer(introspect.Config{
		Registry:    rt,
		Stages:      mgr,
		Transitions: coord,
		Logger:      zl.Named("introspect"),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadOnly:    readOnly,
	})

	return &daemon{
		logger:   logger,
		registry: reg,
		loop:     loop,
		runtime:  rt,
		coord:    coord,
		server:   server,
	}, nil
}

// start registers the discovered plugins and, when enabled, auto-loads them.
// A required plugin that fails to load aborts startup.
func (d *daemon) start(ctx context.Context, settings *config.Settings) error {
	zl := d.logger.Zap()
	manifests, err := discover(settings.Plugins.ManifestDir, zl)
	if err != nil {
		return err
	}
	if _, err := registerAll(d.runtime, manifests, zl); err != nil {
		return err
	}
	if !settings.Plugins.AutoLoad {
		d.logger.Info("auto-load disabled")
		return nil
	}

	results := d.coord.TransitionAll(ctx, d.runtime.AutoLoadIDs(), plugin.StateActive)
	if failed := d.runtime.RequiredFailures(results); len(failed) > 0 {
		return fmt.Errorf("required plugins failed to load: %v", failed)
	}
	d.logger.Infof("%d plugin(s) auto-loaded", len(results))
	return nil
}

func (d *daemon) stop() error {
	err := d.runtime.Shutdown(context.Background())
	d.loop.Stop()
	_ = d.logger.Sync()
	if cerr := logging.CloseAllWriters(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func serve(ctx context.Context, opts config.Options, sopts *serveOptions) error {
	settings, cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if sopts.addr != "" {
		settings.Introspect.Addr = sopts.addr
	}

	d, err := newDaemon(settings, cfg, sopts.readOnly)
	if err != nil {
		return err
	}

	if err := d.start(ctx, settings); err != nil {
		_ = d.stop()
		return err
	}

	if sopts.watch && len(cfg.Files()) > 0 {
		go func() {
			err := cfg.Watch(ctx, d.logger.Zap(), func(_ *config.Settings, err error) {
				if err != nil {
					d.logger.Error("configuration reload failed", zap.Error(err))
					return
				}
				d.logger.Info("configuration reloaded; restart to apply daemon settings")
			})
			if err != nil {
				d.logger.Warn("configuration watch stopped", zap.Error(err))
			}
		}()
	}

	serveErr := d.server.ListenAndServe(ctx, settings.Introspect.Addr)
	if err := d.stop(); err != nil {
		d.logger.Error("shutdown incomplete", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
