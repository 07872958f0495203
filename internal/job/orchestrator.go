package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrbatch/internal/allocator"
	"qrbatch/internal/clock"
	"qrbatch/internal/event"
	"qrbatch/internal/fsutil"
	"qrbatch/internal/logging"
	"qrbatch/internal/metrics"
	"qrbatch/internal/packager"
	"qrbatch/internal/render"
)

// ZoneNamer resolves a display name for a zone code.
type ZoneNamer interface {
	DisplayName(code string) string
}

type Options struct {
	Allocator     *allocator.Allocator
	Renderer      *render.Coordinator
	Bus           *event.Bus[event.ProgressEvent]
	Registry      *Registry
	Zones         ZoneNamer
	WorkDir       string
	OutputDir     string
	OutputURL     string
	Layout        packager.Layout
	MaxSheetItems int
	CutGuides     bool
	KeepScratch   bool
	Clock         clock.Clock
	Logger        *logging.Logger
	Metrics       *metrics.Registry
}

// Orchestrator runs jobs. Every job owns a private scratch directory
// and output directory keyed by its ID.
type Orchestrator struct {
	opts     Options
	inFlight sync.WaitGroup
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Allocator == nil {
		return nil, errors.New("allocator is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if strings.TrimSpace(opts.WorkDir) == "" || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("work and output directories are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(DefaultRetention, opts.Clock, opts.Logger)
	}
	if opts.OutputURL == "" {
		opts.OutputURL = "/output"
	}
	if opts.MaxSheetItems <= 0 {
		opts.MaxSheetItems = packager.DefaultMaxSheetItems
	}
	if opts.Layout.PerPage() == 0 {
		layout, err := packager.NewLayout(packager.Landscape())
		if err != nil {
			return nil, err
		}
		opts.Layout = layout
	}
	return &Orchestrator{opts: opts}, nil
}

func (o *Orchestrator) Registry() *Registry {
	return o.opts.Registry
}

// Submit runs a job to completion and returns its final state. A
// non-nil error means the job did not complete; the returned Job is the
// zero value when it failed before being registered.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Job, error) {
	rec, err := o.admit(ctx, req)
	if err != nil {
		return o.snapshotOrZero(rec), err
	}
	o.inFlight.Add(1)
	defer o.inFlight.Done()
	// Past the reservation the job must finish even if the caller leaves.
	final := o.run(context.WithoutCancel(ctx), rec)
	return final, final.Err()
}

// Start validates and reserves synchronously, then finishes the job in
// the background. Poll the registry for progress.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Job, error) {
	rec, err := o.admit(ctx, req)
	if err != nil {
		return o.snapshotOrZero(rec), err
	}
	o.inFlight.Add(1)
	go func() {
		defer o.inFlight.Done()
		o.run(context.WithoutCancel(ctx), rec)
	}()
	return rec.snapshot(), nil
}

// Wait blocks until every job that passed reservation has finished or
// ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) snapshotOrZero(rec *record) Job {
	if rec == nil {
		return Job{}
	}
	return rec.snapshot()
}

// Validate checks a request without reserving anything.
func (o *Orchestrator) Validate(req Request) (Request, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return req, &allocator.ValidationError{Field: "mode", Message: err.Error()}
	}
	req.Mode = mode
	req.Zone = strings.TrimSpace(req.Zone)
	req.ZoneName = strings.TrimSpace(req.ZoneName)
	if err := o.opts.Allocator.Validate(req.Zone, req.Range()); err != nil {
		return req, err
	}
	if req.Mode == ModePrint {
		if err := packager.CheckSheetSize(req.Range().Count(), o.opts.MaxSheetItems); err != nil {
			return req, &allocator.ValidationError{Field: "end", Message: err.Error(), Err: err}
		}
	}
	if req.ZoneName == "" && o.opts.Zones != nil {
		req.ZoneName = o.opts.Zones.DisplayName(req.Zone)
	}
	if req.ZoneName == "" {
		req.ZoneName = req.Zone
	}
	return req, nil
}

// admit validates and reserves. A job whose reservation is refused is
// registered as failed so its status stays queryable.
func (o *Orchestrator) admit(ctx context.Context, req Request) (*record, error) {
	req, err := o.Validate(req)
	if err != nil {
		o.opts.Metrics.IncReservation("invalid")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := o.opts.Clock.Now()
	id := uuid.NewString()
	rec := &record{job: Job{
		ID:         id,
		Request:    req,
		State:      StateValidated,
		Total:      req.Range().Count(),
		CreatedAt:  now,
		UpdatedAt:  now,
		outputDir:  filepath.Join(o.opts.OutputDir, id),
		scratchDir: filepath.Join(o.opts.WorkDir, "jobs", id),
	}}
	o.opts.Metrics.IncJobStarted(string(req.Mode))

	started := time.Now()
	reservation, err := o.opts.Allocator.TryReserve(ctx, req.Zone, req.Range())
	o.opts.Metrics.ObserveStage("reserve", time.Since(started))
	if err != nil {
		o.opts.Registry.add(rec)
		failed := o.fail(rec, StateValidated, err)
		return rec, failed.Err()
	}
	reservedAt := reservation.ReservedAt
	rec.update(o.opts.Clock.Now(), func(j *Job) {
		j.State = StateReserved
		j.ReservedAt = &reservedAt
	})
	o.opts.Registry.add(rec)
	o.opts.Logger.Info("job reserved", map[string]string{
		"job_id": id,
		"zone":   req.Zone,
		"range":  req.Range().String(),
		"mode":   string(req.Mode),
	})
	return rec, nil
}

func (o *Orchestrator) run(ctx context.Context, rec *record) Job {
	job := rec.snapshot()
	req := job.Request
	defer o.cleanupScratch(job)

	o.publish(job, event.KindStart, fmt.Sprintf("Starting generation for %d QR codes...", job.Total), 0)
	rec.update(o.opts.Clock.Now(), func(j *Job) { j.State = StateRendering })

	started := time.Now()
	result, err := o.opts.Renderer.RenderAll(ctx, render.Request{
		JobID:      job.ID,
		Zone:       req.Zone,
		ZoneName:   req.ZoneName,
		Range:      req.Range(),
		ScratchDir: job.scratchDir,
	}, func(outcome render.Outcome) {
		rec.update(o.opts.Clock.Now(), func(j *Job) {
			if outcome.Done > j.Done {
				j.Done = outcome.Done
			}
		})
		o.publish(job, event.KindProgress, outcome.Message, outcome.Done)
	})
	o.opts.Metrics.ObserveStage("render", time.Since(started))
	if err != nil {
		return o.fail(rec, StateRendering, err)
	}
	o.opts.Metrics.AddArtifacts(len(result.Artifacts))
	o.publish(job, event.KindProgress, "Images done, finalizing...", len(result.Artifacts))

	rec.update(o.opts.Clock.Now(), func(j *Job) {
		j.State = StatePackaging
		j.Done = len(result.Artifacts)
	})
	started = time.Now()
	output, err := o.pack(ctx, job, result)
	o.opts.Metrics.ObserveStage("package", time.Since(started))
	if err != nil {
		return o.fail(rec, StatePackaging, err)
	}

	finished := o.opts.Clock.Now()
	final := rec.update(finished, func(j *Job) {
		j.State = StateCompleted
		j.Output = output
		j.FinishedAt = &finished
	})
	o.opts.Metrics.IncJobFinished(string(req.Mode), string(StateCompleted))
	o.publish(final, event.KindComplete, "Done: "+output.URL, final.Total)
	o.opts.Logger.Info("job completed", map[string]string{
		"job_id": job.ID,
		"output": output.Name,
		"digest": output.Digest,
	})
	return final
}

func (o *Orchestrator) pack(ctx context.Context, job Job, result render.Result) (*Output, error) {
	req := job.Request
	items := make([]packager.Item, 0, len(result.Artifacts))
	for _, artifact := range result.Artifacts {
		items = append(items, packager.Item{Identifier: artifact.Identifier, Path: artifact.Path})
	}
	input := packager.Input{
		Zone:      req.Zone,
		ZoneName:  req.ZoneName,
		Range:     req.Range(),
		Items:     items,
		CreatedAt: job.CreatedAt,
	}
	name := packager.BaseName(req.ZoneName, req.Range()) + req.Mode.Extension()
	target := filepath.Join(job.outputDir, name)

	var message string
	var write func(io.Writer) error
	if req.Mode == ModePrint {
		message = "Building PDF file..."
		write = func(w io.Writer) error {
			return packager.Sheet(ctx, input, packager.SheetOptions{
				Layout:    o.opts.Layout,
				MaxItems:  o.opts.MaxSheetItems,
				CutGuides: o.opts.CutGuides,
				Title:     packager.BaseName(req.ZoneName, req.Range()),
			}, w)
		}
	} else {
		message = "Building ZIP archive..."
		write = func(w io.Writer) error {
			return packager.Collection(ctx, input, w)
		}
	}
	o.publish(job, event.KindProgress, message, job.Total)

	if err := fsutil.WriteAtomic(target, 0o644, write); err != nil {
		var pkgErr *packager.Error
		if errors.As(err, &pkgErr) {
			return nil, err
		}
		return nil, &packager.Error{Op: "write", Err: err}
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, &packager.Error{Op: "write", Err: err}
	}
	digest, err := packager.Digest(target)
	if err != nil {
		return nil, &packager.Error{Op: "digest", Err: err}
	}
	return &Output{
		Name:   name,
		Path:   target,
		URL:    path.Join(o.opts.OutputURL, job.ID, name),
		Digest: digest,
		Size:   info.Size(),
	}, nil
}

// fail marks the job failed. The reservation is kept.
func (o *Orchestrator) fail(rec *record, stage State, err error) Job {
	jobErr := &Error{JobID: rec.snapshot().ID, Stage: stage, Err: err}
	finished := o.opts.Clock.Now()
	final := rec.update(finished, func(j *Job) {
		j.State = StateFailed
		j.Error = jobErr.Error()
		j.failure = jobErr
		j.FinishedAt = &finished
	})
	o.opts.Metrics.IncJobFinished(string(final.Request.Mode), string(StateFailed))
	o.publish(final, event.KindError, "Error: "+jobErr.Error(), final.Done)
	o.opts.Logger.Error("job failed", map[string]string{
		"job_id": final.ID,
		"stage":  string(stage),
		"error":  jobErr.Error(),
	})
	return final
}

func (o *Orchestrator) cleanupScratch(job Job) {
	if o.opts.KeepScratch || job.scratchDir == "" {
		return
	}
	if err := os.RemoveAll(job.scratchDir); err != nil {
		o.opts.Logger.Warn("scratch cleanup failed", map[string]string{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func (o *Orchestrator) publish(job Job, kind event.Kind, message string, done int) {
	if o.opts.Bus == nil {
		return
	}
	evt := event.NewProgressEvent(kind, job.ID, job.Request.Zone, message)
	evt.Done = done
	evt.Total = job.Total
	evt.OccurredAt = o.opts.Clock.Now()
	o.opts.Bus.Publish(evt)
}
