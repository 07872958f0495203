package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"qrbatch/internal/logging"
)

const httpServerShutdownTimeout = 10 * time.Second

type managedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

type serverRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

// Run starts every server and blocks until one fails or stop ends, then
// shuts all of them down. It returns the first serve error, if any.
func (runner *serverRunner) Run(stop context.Context, servers ...managedServer) *serverError {
	errs := make(chan serverError, len(servers))
	started := 0
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		started++
		go func() {
			errs <- serverError{name: server.Name, err: server.Serve()}
		}()
	}
	if started == 0 {
		return nil
	}

	var first *serverError
	select {
	case err := <-errs:
		first = &err
	case <-stop.Done():
	}
	runner.logServerError(first)

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(ctx); err != nil && runner.Logger != nil {
			runner.Logger.Warn("server shutdown failed", map[string]string{
				"server": server.Name,
				"error":  err.Error(),
			})
		}
	}

	pending := started
	if first != nil {
		pending--
	}
	for ; pending > 0; pending-- {
		select {
		case err := <-errs:
			runner.logServerError(&err)
		case <-ctx.Done():
			return first
		}
	}
	return first
}

func (runner *serverRunner) logServerError(serverErr *serverError) {
	if runner == nil || runner.Logger == nil || serverErr == nil || serverErr.err == nil {
		return
	}
	if errors.Is(serverErr.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("server stopped", map[string]string{
		"server": serverErr.name,
		"error":  serverErr.err.Error(),
	})
}
