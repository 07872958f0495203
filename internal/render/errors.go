package render

import (
	"fmt"
	"strings"
)

// RenderError is a failed batch. No artifacts of a failed batch are
// ever packaged.
type RenderError struct {
	Zone    string
	Backend string
	Timeout bool
	Missing []string
	Err     error
}

func (e *RenderError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("rendering timed out for zone %s", e.Zone)
	case len(e.Missing) > 0:
		preview := e.Missing
		if len(preview) > 5 {
			preview = preview[:5]
		}
		return fmt.Sprintf("renderer produced no card for %d identifier(s): %s",
			len(e.Missing), strings.Join(preview, ", "))
	case e.Err != nil:
		return fmt.Sprintf("rendering failed: %v", e.Err)
	default:
		return "rendering failed"
	}
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
