package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"qrbatch/internal/config"
	"qrbatch/internal/logging"
	"qrbatch/internal/version"
)

const (
	jobDrainTimeout     = 2 * time.Minute
	rendererStopTimeout = 10 * time.Second
	storeCloseTimeout   = 5 * time.Second
)

func runServer(args []string, deps commandDeps) int {
	settings, _, code, done := loadSettings("serve", args, deps, nil)
	if done {
		return code
	}
	logger := newLogger(settings, deps.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	listener, err := net.Listen("tcp", settings.Server.Addr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  settings.Server.Addr,
			"error": err.Error(),
		})
		return 1
	}
	return serve(ctx, listener, settings, logger)
}

// serve runs the service on listener until ctx ends, then drains jobs,
// stops renderer processes and closes the store in that order.
func serve(ctx context.Context, listener net.Listener, settings config.Settings, logger *logging.Logger) int {
	app, err := buildApplication(ctx, settings, logger)
	if err != nil {
		_ = listener.Close()
		logger.Error("startup failed", map[string]string{"error": err.Error()})
		return 1
	}
	logger.Info("zones loaded", map[string]string{
		"count": strconv.Itoa(app.catalog.Len()),
		"path":  settings.Zones.Path,
	})

	if settings.Zones.Watch {
		stopWatch, err := app.catalog.Watch(ctx)
		if err != nil {
			logger.Warn("zone watch unavailable", map[string]string{"error": err.Error()})
		} else {
			defer stopWatch()
		}
	}
	go app.jobs.Registry().RunSweeper(ctx, settings.Jobs.SweepInterval.Duration)

	server := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logger.Info("qrbatch listening", map[string]string{
		"addr":    listener.Addr().String(),
		"version": version.Get().Version,
		"storage": settings.Storage.Driver,
		"backend": settings.Render.Backend,
	})
	runner := &serverRunner{Logger: logger, ShutdownTimeout: httpServerShutdownTimeout}
	serveErr := runner.Run(ctx, managedServer{
		Name:     "http",
		Serve:    func() error { return server.Serve(listener) },
		Shutdown: server.Shutdown,
	})

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("jobs", jobDrainTimeout, app.jobs.Wait)
	coordinator.Add("renderers", rendererStopTimeout, app.processes.StopAll)
	coordinator.Add("store", storeCloseTimeout, func(context.Context) error { return app.Close() })
	if err := coordinator.Run(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", map[string]string{"error": err.Error()})
	}

	if serveErr != nil && serveErr.err != nil && !errors.Is(serveErr.err, http.ErrServerClosed) {
		return 1
	}
	logger.Info("qrbatch stopped", nil)
	return 0
}
