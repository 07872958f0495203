package job

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"qrbatch/internal/allocator"
	"qrbatch/internal/clock"
	"qrbatch/internal/event"
	"qrbatch/internal/interval"
	"qrbatch/internal/packager"
	"qrbatch/internal/render"
	"qrbatch/internal/zone"
)

type countingBackend struct {
	inner render.Backend
	err   error
	calls atomic.Int32

	mu      sync.Mutex
	batches []render.Batch
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) Render(ctx context.Context, batch render.Batch, progress func(string)) error {
	b.calls.Add(1)
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	return b.inner.Render(ctx, batch, progress)
}

type harness struct {
	orchestrator *Orchestrator
	allocator    *allocator.Allocator
	backend      *countingBackend
	bus          *event.Bus[event.ProgressEvent]
	root         string
}

func newHarness(t *testing.T, backendErr error) *harness {
	t.Helper()
	return newHarnessWithCatalog(t, zone.NewStaticCatalog([]zone.Zone{{Code: "12", Name: "ALPHA"}}), backendErr)
}

func newHarnessWithCatalog(t *testing.T, catalog *zone.Catalog, backendErr error) *harness {
	t.Helper()
	root := t.TempDir()
	store := interval.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	alloc := allocator.New(store, allocator.Options{Zones: catalog})
	backend := &countingBackend{inner: render.NewNativeBackend(2), err: backendErr}
	bus := event.NewBus[event.ProgressEvent](context.Background(), event.BusOptions{Name: "progress"})
	t.Cleanup(bus.Close)

	orchestrator, err := New(Options{
		Allocator: alloc,
		Renderer:  render.NewCoordinator(backend, render.CoordinatorOptions{}),
		Bus:       bus,
		Zones:     catalog,
		WorkDir:   filepath.Join(root, "work"),
		OutputDir: filepath.Join(root, "output"),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{orchestrator: orchestrator, allocator: alloc, backend: backend, bus: bus, root: root}
}

func TestSubmitIndividualProducesArchive(t *testing.T) {
	h := newHarness(t, nil)
	events, cancel := h.bus.Subscribe()
	defer cancel()

	job, err := h.orchestrator.Submit(context.Background(), Request{Zone: "12", Start: 70000, End: 70002})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.State != StateCompleted || job.Output == nil {
		t.Fatalf("expected completed job with output, got %+v", job)
	}
	if job.Request.ZoneName != "ALPHA" || job.Request.Mode != ModeIndividual {
		t.Fatalf("expected zone name and default mode to be resolved, got %+v", job.Request)
	}
	if job.Output.URL != "/output/"+job.ID+"/ALPHA_70000_70002.zip" {
		t.Fatalf("unexpected download url %q", job.Output.URL)
	}
	if len(job.Output.Digest) != 64 {
		t.Fatalf("expected blake3 digest, got %q", job.Output.Digest)
	}

	reader, err := zip.OpenReader(job.Output.Path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()
	if len(reader.File) != 3 || reader.File[0].Name != "ALPHA_70000_70002/1270000.png" {
		t.Fatalf("unexpected archive entries %d", len(reader.File))
	}

	if _, err := os.Stat(filepath.Join(h.root, "work", "jobs", job.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir to be removed, got %v", err)
	}

	kinds := map[event.Kind]int{}
	timeout := time.After(time.Second)
	for kinds[event.KindComplete] == 0 {
		select {
		case evt := <-events:
			if evt.JobID != job.ID {
				t.Fatalf("unexpected job id %q", evt.JobID)
			}
			kinds[evt.Kind]++
		case <-timeout:
			t.Fatalf("timed out waiting for complete event, saw %v", kinds)
		}
	}
	if kinds[event.KindStart] != 1 || kinds[event.KindProgress] < 3 {
		t.Fatalf("unexpected event mix %v", kinds)
	}
}

func TestSubmitConflictReferencesExistingRange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.orchestrator.Submit(ctx, Request{Zone: "12", Start: 70000, End: 70002}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	job, err := h.orchestrator.Submit(ctx, Request{Zone: "12", Start: 70002, End: 70005})
	var conflict *allocator.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing != (interval.Range{Start: 70000, End: 70002}) {
		t.Fatalf("unexpected existing range %v", conflict.Existing)
	}
	if job.State != StateFailed {
		t.Fatalf("expected failed job, got %s", job.State)
	}
	if h.backend.calls.Load() != 1 {
		t.Fatalf("expected renderer to run once, got %d", h.backend.calls.Load())
	}
}

func TestSubmitPrintRejectsOversizedRangeBeforeReserving(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orchestrator.Submit(ctx, Request{Zone: "12", Start: 1, End: 600, Mode: ModePrint})
	var validation *allocator.ValidationError
	if !errors.As(err, &validation) || !errors.Is(err, packager.ErrTooManyItems) {
		t.Fatalf("expected sheet size validation error, got %v", err)
	}
	if h.backend.calls.Load() != 0 {
		t.Fatal("renderer must not run for a rejected request")
	}
	availability, err := h.allocator.Check(ctx, "12", interval.Range{Start: 1, End: 600})
	if err != nil || !availability.Available {
		t.Fatalf("expected range to stay free, got %+v %v", availability, err)
	}
}

func TestSubmitPrintProducesSheet(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.orchestrator.Submit(context.Background(), Request{Zone: "12", Start: 70000, End: 70008, Mode: "sheet"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if filepath.Ext(job.Output.Name) != ".pdf" {
		t.Fatalf("expected pdf output, got %q", job.Output.Name)
	}
	data, err := os.ReadFile(job.Output.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data[:5]) != "%PDF-" {
		t.Fatal("expected a PDF document")
	}
}

func TestRenderFailureKeepsReservation(t *testing.T) {
	h := newHarness(t, errors.New("renderer crashed"))
	ctx := context.Background()

	job, err := h.orchestrator.Submit(ctx, Request{Zone: "12", Start: 10, End: 12})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Stage != StateRendering {
		t.Fatalf("expected render stage failure, got %v", err)
	}
	var renderErr *render.RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError in chain, got %v", err)
	}
	if job.State != StateFailed || job.Error == "" {
		t.Fatalf("expected failed job with message, got %+v", job)
	}

	availability, err := h.allocator.Check(ctx, "12", interval.Range{Start: 10, End: 12})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if availability.Available {
		t.Fatal("expected the failed job's range to remain reserved")
	}
}

func TestSubmitUnknownZoneRejected(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orchestrator.Submit(context.Background(), Request{Zone: "99", Start: 1, End: 1})
	if !errors.Is(err, allocator.ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
	if h.orchestrator.Registry().Len() != 0 {
		t.Fatal("rejected requests must not be registered")
	}
}

func TestSubmitRejectsPathLikeZoneWithEmptyCatalog(t *testing.T) {
	h := newHarnessWithCatalog(t, zone.NewStaticCatalog(nil), nil)
	outside := filepath.Dir(h.root)
	before, _ := filepath.Glob(filepath.Join(outside, "escaped*"))

	_, err := h.orchestrator.Submit(context.Background(), Request{Zone: "../../../escaped", Start: 1, End: 1})
	if !errors.Is(err, allocator.ErrInvalidZoneCode) {
		t.Fatalf("expected ErrInvalidZoneCode, got %v", err)
	}
	if calls := h.backend.calls.Load(); calls != 0 {
		t.Fatalf("expected renderer to stay idle, got %d calls", calls)
	}
	if h.orchestrator.Registry().Len() != 0 {
		t.Fatal("rejected requests must not be registered")
	}
	after, _ := filepath.Glob(filepath.Join(outside, "escaped*"))
	if len(after) != len(before) {
		t.Fatalf("unexpected files beside the work dir: %v", after)
	}

	// Well-formed codes still work without a catalog.
	if _, err := h.orchestrator.Submit(context.Background(), Request{Zone: "77", Start: 1, End: 1}); err != nil {
		t.Fatalf("submit plain code: %v", err)
	}
}

func TestConcurrentJobsStayInTheirScratchDirs(t *testing.T) {
	h := newHarness(t, nil)
	requests := []Request{
		{Zone: "12", Start: 1, End: 3},
		{Zone: "12", Start: 10, End: 12},
		{Zone: "12", Start: 20, End: 20, Mode: ModePrint},
	}
	jobs := make([]Job, len(requests))
	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			jobs[i], errs[i] = h.orchestrator.Submit(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	jobsRoot := filepath.Join(h.root, "work", "jobs")
	dirs := map[string]string{}
	for i, job := range jobs {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		dirs[job.ID] = filepath.Join(jobsRoot, job.ID)
	}
	if len(dirs) != len(requests) {
		t.Fatalf("expected distinct job ids, got %v", dirs)
	}

	h.backend.mu.Lock()
	batches := append([]render.Batch(nil), h.backend.batches...)
	h.backend.mu.Unlock()
	if len(batches) != len(requests) {
		t.Fatalf("expected %d render batches, got %d", len(requests), len(batches))
	}
	for _, batch := range batches {
		want, ok := dirs[batch.JobID]
		if !ok {
			t.Fatalf("batch for unknown job %q", batch.JobID)
		}
		if batch.Dir != want {
			t.Fatalf("job %s rendered into %s, want %s", batch.JobID, batch.Dir, want)
		}
		for _, task := range batch.Tasks {
			if filepath.Dir(task.Target) != want {
				t.Fatalf("job %s task %s targets %s", batch.JobID, task.Identifier, task.Target)
			}
		}
	}
	for _, job := range jobs {
		if filepath.Dir(job.Output.Path) != filepath.Join(h.root, "output", job.ID) {
			t.Fatalf("job %s output at %s", job.ID, job.Output.Path)
		}
	}

	var stray []string
	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".png" {
			stray = append(stray, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(stray) != 0 {
		t.Fatalf("expected scratch cards to be cleaned up, found %v", stray)
	}
}

func TestSubmitAbandonedBeforeReservation(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.orchestrator.Submit(ctx, Request{Zone: "12", Start: 1, End: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	availability, _ := h.allocator.Check(context.Background(), "12", interval.Range{Start: 1, End: 1})
	if !availability.Available {
		t.Fatal("abandoned request must not reserve")
	}
}

func TestStartRunsInBackground(t *testing.T) {
	h := newHarness(t, nil)
	job, err := h.orchestrator.Start(context.Background(), Request{Zone: "12", Start: 5, End: 6})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.State != StateReserved {
		t.Fatalf("expected reserved job, got %s", job.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.orchestrator.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	final, err := h.orchestrator.Registry().Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != StateCompleted || final.Done != 2 {
		t.Fatalf("expected completed job, got %+v", final)
	}
}

func TestRegistrySweepRemovesExpiredOutput(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	registry := NewRegistry(time.Hour, fake, nil)
	outputDir := filepath.Join(t.TempDir(), "job-1")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	finished := fake.Now()
	registry.add(&record{job: Job{ID: "job-1", State: StateCompleted, FinishedAt: &finished, outputDir: outputDir}})
	registry.add(&record{job: Job{ID: "job-2", State: StateRendering}})

	if removed := registry.Sweep(); removed != 0 {
		t.Fatalf("expected nothing to expire yet, got %d", removed)
	}
	fake.Advance(2 * time.Hour)
	if removed := registry.Sweep(); removed != 1 {
		t.Fatalf("expected one expired job, got %d", removed)
	}
	if _, err := registry.Get("job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected job-1 to be gone, got %v", err)
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Fatalf("expected output dir removed, got %v", err)
	}
	if _, err := registry.Get("job-2"); err != nil {
		t.Fatalf("running job must survive sweep: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":           ModeIndividual,
		"individual": ModeIndividual,
		"collection": ModeIndividual,
		"print":      ModePrint,
		"Sheet":      ModePrint,
	}
	for input, want := range cases {
		got, err := ParseMode(input)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseMode("poster"); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}
