package job

import (
	"context"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"qrbatch/internal/clock"
	"qrbatch/internal/logging"
)

const DefaultRetention = 24 * time.Hour

// Registry keeps jobs by ID until they expire. Expiry removes the job's
// output directory.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*record
	retention time.Duration
	clock     clock.Clock
	logger    *logging.Logger
}

func NewRegistry(retention time.Duration, clk clock.Clock, logger *logging.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		records:   make(map[string]*record),
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

func (r *Registry) add(rec *record) {
	r.mu.Lock()
	r.records[rec.job.ID] = rec
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return rec.snapshot(), nil
}

// List returns every tracked job, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	jobs := make([]Job, 0, len(r.records))
	for _, rec := range r.records {
		jobs = append(jobs, rec.snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Sweep drops finished jobs older than the retention and deletes their
// output. It returns how many jobs were removed.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.retention)
	var expired []Job
	r.mu.Lock()
	for id, rec := range r.records {
		snapshot := rec.snapshot()
		if snapshot.FinishedAt == nil || snapshot.FinishedAt.After(cutoff) {
			continue
		}
		delete(r.records, id)
		expired = append(expired, snapshot)
	}
	r.mu.Unlock()

	for _, job := range expired {
		if job.outputDir == "" {
			continue
		}
		if err := os.RemoveAll(job.outputDir); err != nil {
			r.logger.Warn("job output cleanup failed", map[string]string{
				"job_id": job.ID,
				"error":  err.Error(),
			})
		}
	}
	if len(expired) > 0 {
		r.logger.Info("expired jobs swept", map[string]string{
			"count": strconv.Itoa(len(expired)),
		})
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
