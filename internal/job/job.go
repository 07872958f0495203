// Package job drives a generation request from validation through
// reservation, rendering and packaging to a downloadable artifact.
package job

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qrbatch/internal/interval"
)

var ErrJobNotFound = errors.New("job not found")

type Mode string

const (
	ModeIndividual Mode = "individual"
	ModePrint      Mode = "print"
)

// ParseMode accepts the mode names and their aliases. Empty means individual.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "individual", "collection", "zip":
		return ModeIndividual, nil
	case "print", "sheet", "pdf":
		return ModePrint, nil
	default:
		return "", fmt.Errorf("unknown mode %q", value)
	}
}

func (m Mode) Extension() string {
	if m == ModePrint {
		return ".pdf"
	}
	return ".zip"
}

type State string

const (
	StateValidated State = "validated"
	StateReserved  State = "reserved"
	StateRendering State = "rendering"
	StatePackaging State = "packaging"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Request struct {
	Zone     string `json:"zone"`
	ZoneName string `json:"zoneName"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Mode     Mode   `json:"mode"`
}

func (r Request) Range() interval.Range {
	return interval.Range{Start: r.Start, End: r.End}
}

// Output is the packaged artifact of a completed job.
type Output struct {
	Name   string `json:"name"`
	Path   string `json:"-"`
	URL    string `json:"url"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Job is a point-in-time view of a job.
type Job struct {
	ID         string     `json:"id"`
	Request    Request    `json:"request"`
	State      State      `json:"state"`
	Done       int        `json:"done"`
	Total      int        `json:"total"`
	Output     *Output    `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ReservedAt *time.Time `json:"reservedAt,omitempty"`

	failure    error
	outputDir  string
	scratchDir string
}

// Err returns the terminal error of a failed job.
func (j Job) Err() error {
	return j.failure
}

// record is the mutable job held by the registry.
type record struct {
	mu  sync.Mutex
	job Job
}

func (r *record) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.job
	if r.job.Output != nil {
		output := *r.job.Output
		out.Output = &output
	}
	return out
}

func (r *record) update(now time.Time, fn func(*Job)) Job {
	r.mu.Lock()
	fn(&r.job)
	r.job.UpdatedAt = now
	r.mu.Unlock()
	return r.snapshot()
}
