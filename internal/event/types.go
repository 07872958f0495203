package event

import "time"

// Kind is the coarse lifecycle marker observers use to render a status line.
type Kind string

const (
	KindStart    Kind = "start"
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// ProgressEvent is broadcast by in-flight generation jobs.
type ProgressEvent struct {
	Kind       Kind
	Message    string
	JobID      string
	Zone       string
	Done       int
	Total      int
	OccurredAt time.Time
}

func NewProgressEvent(kind Kind, jobID, zone, message string) ProgressEvent {
	return ProgressEvent{
		Kind:       kind,
		Message:    message,
		JobID:      jobID,
		Zone:       zone,
		OccurredAt: time.Now().UTC(),
	}
}

func (e ProgressEvent) Type() string {
	return string(e.Kind)
}

func (e ProgressEvent) Timestamp() time.Time {
	return e.OccurredAt
}
