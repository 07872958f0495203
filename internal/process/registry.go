// Package process tracks renderer subprocesses so a timeout or a server
// shutdown can stop the whole process tree of a job.
package process

import (
	"context"
	"errors"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"qrbatch/internal/logging"
)

var (
	ErrProcessNotFound = errors.New("process not running")
	ErrRegistryClosed  = errors.New("process registry closed")
)

const defaultStopGrace = 3 * time.Second

// Child describes a tracked subprocess.
type Child struct {
	PID       int
	PGID      int
	JobID     string
	Command   string
	StartedAt time.Time
}

type Registry struct {
	mu       sync.Mutex
	children map[int]*Handle
	closed   bool
	grace    time.Duration
	logger   *logging.Logger
}

func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		children: make(map[int]*Handle),
		grace:    defaultStopGrace,
		logger:   logger,
	}
}

// SetStopGrace bounds how long Stop waits after SIGTERM before SIGKILL.
func (r *Registry) SetStopGrace(grace time.Duration) {
	if r == nil || grace <= 0 {
		return
	}
	r.mu.Lock()
	r.grace = grace
	r.mu.Unlock()
}

// Handle is a started child. Exactly one goroutine reaps it.
type Handle struct {
	Child
	registry *Registry
	done     chan struct{}
	err      error
}

// Start launches cmd in its own process group and tracks it until it exits.
// cmd must not have been started and its output must not use StdoutPipe.
func (r *Registry) Start(cmd *exec.Cmd, jobID string) (*Handle, error) {
	if r == nil {
		return nil, ErrRegistryClosed
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}

	configureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	handle := &Handle{
		Child: Child{
			PID:       pid,
			PGID:      GroupID(pid),
			JobID:     jobID,
			Command:   strings.Join(cmd.Args, " "),
			StartedAt: time.Now().UTC(),
		},
		registry: r,
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.children[pid] = handle
	r.mu.Unlock()
	r.logger.Debug("renderer started", map[string]string{
		"pid":    strconv.Itoa(pid),
		"job_id": jobID,
	})

	go func() {
		handle.err = cmd.Wait()
		r.mu.Lock()
		delete(r.children, pid)
		r.mu.Unlock()
		close(handle.done)
	}()
	return handle, nil
}

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the child exits. If ctx ends first the child's
// process group is stopped and ctx.Err() is returned.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*h.registry.stopGrace())
	defer cancel()
	if err := h.stop(stopCtx); err != nil && !errors.Is(err, ErrProcessNotFound) {
		h.registry.logger.Warn("renderer stop failed", map[string]string{
			"pid":   strconv.Itoa(h.PID),
			"error": err.Error(),
		})
	}
	return ctx.Err()
}

func (h *Handle) stop(ctx context.Context) error {
	return stopProcess(ctx, h.PID, h.PGID, h.registry.stopGrace(), h.awaitExit)
}

func (h *Handle) awaitExit(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) stopGrace() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grace
}

// Running lists the tracked children ordered by start time.
func (r *Registry) Running() []Child {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Child, 0, len(r.children))
	for _, handle := range r.children {
		out = append(out, handle.Child)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// StopAll refuses new children and stops every tracked one.
func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.children))
	for _, handle := range r.children {
		handles = append(handles, handle)
	}
	r.mu.Unlock()

	var stopErr error
	for _, handle := range handles {
		if err := handle.stop(ctx); err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, err)
		}
	}
	return stopErr
}
