package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"qrbatch/internal/allocator"
	"qrbatch/internal/api"
	"qrbatch/internal/clock"
	"qrbatch/internal/config"
	"qrbatch/internal/event"
	"qrbatch/internal/interval"
	"qrbatch/internal/job"
	"qrbatch/internal/logging"
	"qrbatch/internal/metrics"
	"qrbatch/internal/packager"
	"qrbatch/internal/process"
	"qrbatch/internal/render"
	"qrbatch/internal/zone"
)

// application is the wired service graph behind the HTTP server.
type application struct {
	settings  config.Settings
	logger    *logging.Logger
	metrics   *metrics.Registry
	store     interval.Store
	catalog   *zone.Catalog
	allocator *allocator.Allocator
	processes *process.Registry
	bus       *event.Bus[event.ProgressEvent]
	jobs      *job.Orchestrator
	handler   http.Handler
}

func buildApplication(ctx context.Context, settings config.Settings, logger *logging.Logger) (*application, error) {
	app := &application{
		settings:  settings,
		logger:    logger,
		metrics:   metrics.New(),
		processes: process.NewRegistry(logger),
	}

	store, err := interval.Open(settings.Storage.Driver, settings.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.store = store

	catalog, err := zone.LoadCatalog(settings.Zones.Path, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load zones: %w", err)
	}
	app.catalog = catalog

	app.allocator = allocator.New(store, allocator.Options{
		MaxSequence: settings.Allocation.MaxSequence,
		Zones:       catalog,
		Logger:      logger,
		Registry:    app.metrics,
	})

	coordinator, err := buildCoordinator(settings.Render, app.processes, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	layout, err := packager.Preset(settings.Packaging.Layout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app.bus = event.NewBus[event.ProgressEvent](ctx, event.BusOptions{
		Name:     "progress",
		Registry: app.metrics,
		Logger:   logger,
	})

	systemClock := clock.NewSystem()
	app.jobs, err = job.New(job.Options{
		Allocator:     app.allocator,
		Renderer:      coordinator,
		Bus:           app.bus,
		Registry:      job.NewRegistry(settings.Jobs.Retention.Duration, systemClock, logger),
		Zones:         catalog,
		WorkDir:       settings.Jobs.WorkDir,
		OutputDir:     settings.Jobs.OutputDir,
		Layout:        layout,
		MaxSheetItems: settings.Packaging.MaxSheetItems,
		CutGuides:     settings.Packaging.CutGuides,
		KeepScratch:   settings.Jobs.KeepScratch,
		Clock:         systemClock,
		Logger:        logger,
		Metrics:       app.metrics,
	})
	if err != nil {
		app.bus.Close()
		_ = store.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, &api.Handler{
		Allocator:      app.allocator,
		Jobs:           app.jobs,
		Zones:          catalog,
		Bus:            app.bus,
		Logger:         logger,
		Metrics:        app.metrics,
		OutputDir:      settings.Jobs.OutputDir,
		AllowedOrigins: settings.Server.CORSOrigins,
	})
	app.handler = mux
	return app, nil
}

func buildCoordinator(settings config.RenderSettings, processes *process.Registry, logger *logging.Logger) (*render.Coordinator, error) {
	style := render.DefaultCardStyle()
	if path := strings.TrimSpace(settings.CardProfile); path != "" {
		loaded, err := render.LoadCardStyle(path)
		if err != nil {
			return nil, fmt.Errorf("load card profile: %w", err)
		}
		style = loaded
	}

	var backend render.Backend
	switch strings.ToLower(strings.TrimSpace(settings.Backend)) {
	case "", "native":
		backend = render.NewNativeBackend(settings.Workers)
	case "process":
		if strings.TrimSpace(settings.Command) == "" {
			return nil, errors.New("render.command is required for the process backend")
		}
		backend = &render.ProcessBackend{
			Command:  settings.Command,
			Args:     settings.Args,
			WorkDir:  settings.WorkDir,
			Registry: processes,
			Logger:   logger,
		}
	default:
		return nil, fmt.Errorf("unknown render backend %q", settings.Backend)
	}

	return render.NewCoordinator(backend, render.CoordinatorOptions{
		Timeout: settings.Timeout.Duration,
		Style:   style,
		Logger:  logger,
	}), nil
}

// Close releases the bus and the store. Callers drain jobs first.
func (app *application) Close() error {
	app.bus.Close()
	return app.store.Close()
}
