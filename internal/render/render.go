// Package render turns a reserved range into one card image per
// identifier, using either an in-process renderer or an external
// renderer command.
package render

import (
	"context"
	"fmt"
	"strings"

	"qrbatch/internal/fsutil"
	"qrbatch/internal/interval"
)

// SequenceWidth is the zero-padded width of the sequence suffix.
const SequenceWidth = 5

// Identifier joins a zone code and a sequence number, for example
// Identifier("12", 70000) == "1270000".
func Identifier(zone string, n int) string {
	return zone + fmt.Sprintf("%0*d", SequenceWidth, n)
}

// ArtifactName is the file name a card for identifier is written to.
func ArtifactName(identifier string) string {
	return identifier + ".png"
}

// Task is one card to render. Rendering the same task twice yields the
// same image.
type Task struct {
	Identifier string
	Target     string
}

// Tasks expands r into tasks in ascending identifier order, targeting
// files directly inside dir. An identifier that would resolve anywhere
// else is an error.
func Tasks(zone string, r interval.Range, dir string) ([]Task, error) {
	if r.End < r.Start {
		return nil, nil
	}
	tasks := make([]Task, 0, r.Count())
	for n := r.Start; n <= r.End; n++ {
		id := Identifier(zone, n)
		name := ArtifactName(id)
		if strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("identifier %q is not a plain file name", id)
		}
		target, err := fsutil.JoinWithin(dir, name)
		if err != nil {
			return nil, fmt.Errorf("identifier %q: %w", id, err)
		}
		tasks = append(tasks, Task{Identifier: id, Target: target})
	}
	return tasks, nil
}

// Batch is everything a backend needs for one job.
type Batch struct {
	JobID    string
	Zone     string
	ZoneName string
	Dir      string
	Tasks    []Task
	Style    CardStyle
}

// Backend renders every task of a batch. It returns only once all
// cards are written or the batch has failed as a whole. progress may be
// called from several goroutines.
type Backend interface {
	Name() string
	Render(ctx context.Context, batch Batch, progress func(line string)) error
}
