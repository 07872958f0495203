// Package packager bundles a job's rendered cards into a single output
// artifact: a ZIP collection or a paginated PDF print sheet.
package packager

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"qrbatch/internal/interval"
)

var (
	ErrNoItems       = errors.New("nothing to package")
	ErrTooManyItems  = errors.New("too many items for a print sheet")
	ErrUnknownLayout = errors.New("unknown sheet layout")
)

// Item is one rendered card.
type Item struct {
	Identifier string
	Path       string
}

// Input is the ordered set of cards of a job.
type Input struct {
	Zone      string
	ZoneName  string
	Range     interval.Range
	Items     []Item
	CreatedAt time.Time
}

// Error is a packaging failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("packaging %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BaseName is "<ZONENAME>_<start>_<end>", the stem of output files.
func BaseName(zoneName string, r interval.Range) string {
	name := strings.ToUpper(strings.TrimSpace(zoneName))
	name = strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return c
	}, name)
	if name == "" {
		name = "ZONE"
	}
	return fmt.Sprintf("%s_%d_%d", name, r.Start, r.End)
}

// sortedItems orders items by identifier, shorter identifiers first so
// numeric order holds even without padding.
func sortedItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Identifier, out[j].Identifier
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

func checkDuplicates(items []Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.Identifier]; dup {
			return fmt.Errorf("duplicate identifier %s", item.Identifier)
		}
		seen[item.Identifier] = struct{}{}
	}
	return nil
}
