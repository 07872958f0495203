package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"qrbatch/internal/interval"
	"qrbatch/internal/logging"
)

const DefaultTimeout = 10 * time.Minute

// Request is one job's render input. ScratchDir must be private to the job.
type Request struct {
	JobID      string
	Zone       string
	ZoneName   string
	Range      interval.Range
	ScratchDir string
}

// Outcome is reported for every progress line of the backend. Identifier
// is set when the line names a card of this batch for the first time.
type Outcome struct {
	Identifier string
	Message    string
	Done       int
	Total      int
}

// Artifact is a verified card on disk.
type Artifact struct {
	Identifier string
	Path       string
	Size       int64
}

// Result lists one artifact per identifier in ascending order.
type Result struct {
	Artifacts []Artifact
	Elapsed   time.Duration
}

type CoordinatorOptions struct {
	Timeout time.Duration
	Style   CardStyle
	Logger  *logging.Logger
}

type Coordinator struct {
	backend Backend
	timeout time.Duration
	style   CardStyle
	logger  *logging.Logger
}

func NewCoordinator(backend Backend, opts CoordinatorOptions) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Style.Width == 0 {
		opts.Style = DefaultCardStyle()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Coordinator{
		backend: backend,
		timeout: opts.Timeout,
		style:   opts.Style,
		logger:  opts.Logger,
	}
}

func (c *Coordinator) BackendName() string {
	return c.backend.Name()
}

// RenderAll invokes the backend once for the whole range and then checks
// that every identifier has exactly one card. Any backend failure or
// missing card fails the batch.
func (c *Coordinator) RenderAll(ctx context.Context, req Request, observer func(Outcome)) (Result, error) {
	started := time.Now()
	if req.ScratchDir == "" {
		return Result{}, &RenderError{Zone: req.Zone, Backend: c.backend.Name(), Err: errors.New("scratch directory is required")}
	}
	if err := os.MkdirAll(req.ScratchDir, 0o755); err != nil {
		return Result{}, &RenderError{Zone: req.Zone, Backend: c.backend.Name(), Err: err}
	}

	tasks, err := Tasks(req.Zone, req.Range, req.ScratchDir)
	if err != nil {
		return Result{}, &RenderError{Zone: req.Zone, Backend: c.backend.Name(), Err: err}
	}
	batch := Batch{
		JobID:    req.JobID,
		Zone:     req.Zone,
		ZoneName: req.ZoneName,
		Dir:      req.ScratchDir,
		Tasks:    tasks,
		Style:    c.style,
	}
	tracker := newProgressTracker(tasks, observer)

	renderCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err = c.backend.Render(renderCtx, batch, tracker.line)
	if err == nil && renderCtx.Err() != nil && ctx.Err() == nil {
		err = renderCtx.Err()
	}
	if err != nil {
		timedOut := errors.Is(renderCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		c.logger.Warn("render failed", map[string]string{
			"job_id":  req.JobID,
			"zone":    req.Zone,
			"backend": c.backend.Name(),
			"timeout": strconv.FormatBool(timedOut),
			"error":   err.Error(),
		})
		return Result{}, &RenderError{Zone: req.Zone, Backend: c.backend.Name(), Timeout: timedOut, Err: err}
	}

	artifacts, missing := verifyArtifacts(tasks)
	if len(missing) > 0 {
		return Result{}, &RenderError{Zone: req.Zone, Backend: c.backend.Name(), Missing: missing}
	}
	result := Result{Artifacts: artifacts, Elapsed: time.Since(started)}
	c.logger.Info("render finished", map[string]string{
		"job_id":  req.JobID,
		"zone":    req.Zone,
		"count":   strconv.Itoa(len(artifacts)),
		"elapsed": result.Elapsed.Round(time.Millisecond).String(),
	})
	return result, nil
}

func verifyArtifacts(tasks []Task) ([]Artifact, []string) {
	artifacts := make([]Artifact, 0, len(tasks))
	var missing []string
	for _, task := range tasks {
		info, err := os.Stat(task.Target)
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			missing = append(missing, task.Identifier)
			continue
		}
		artifacts = append(artifacts, Artifact{Identifier: task.Identifier, Path: task.Target, Size: info.Size()})
	}
	return artifacts, missing
}

type progressTracker struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	done     int
	total    int
	observer func(Outcome)
}

func newProgressTracker(tasks []Task, observer func(Outcome)) *progressTracker {
	pending := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		pending[task.Identifier] = struct{}{}
	}
	return &progressTracker{pending: pending, total: len(tasks), observer: observer}
}

func (p *progressTracker) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.mu.Lock()
	outcome := Outcome{Message: line, Total: p.total}
	for _, token := range strings.FieldsFunc(line, isTokenSeparator) {
		token = strings.TrimSuffix(token, ".png")
		if _, ok := p.pending[token]; ok {
			delete(p.pending, token)
			p.done++
			outcome.Identifier = token
			break
		}
	}
	outcome.Done = p.done
	observer := p.observer
	p.mu.Unlock()
	if observer != nil {
		observer(outcome)
	}
}

func isTokenSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', ';', ':', '"', '\'', '/', '\\', '(', ')', '[', ']':
		return true
	}
	return false
}

func (o Outcome) String() string {
	if o.Total == 0 {
		return o.Message
	}
	return fmt.Sprintf("%s (%d/%d)", o.Message, o.Done, o.Total)
}
