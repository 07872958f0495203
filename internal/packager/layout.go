package packager

import (
	"errors"
	"fmt"
	"strings"
)

// A4 in PostScript points.
const (
	a4Short = 595.28
	a4Long  = 841.89
)

// CardAspect is the width:height ratio of a printed card.
const CardAspect = 252.0 / 415.0

// Geometry describes a grid of equally sized cells on a page. All
// lengths are in points with the origin at the top-left corner.
type Geometry struct {
	PageWidth      float64
	PageHeight     float64
	Margin         float64
	Cols           int
	Rows           int
	GapX           float64
	GapY           float64
	ArtifactAspect float64
	Fill           float64
	CutGuideOffset float64
	CutGuideLength float64
}

type Rect struct {
	X, Y, W, H float64
}

// Segment is a straight line from (X1, Y1) to (X2, Y2).
type Segment struct {
	X1, Y1, X2, Y2 float64
}

// Layout is a validated Geometry with derived cell sizes.
type Layout struct {
	Geometry
	cellWidth  float64
	cellHeight float64
}

func NewLayout(g Geometry) (Layout, error) {
	var errs []error
	if g.PageWidth <= 0 || g.PageHeight <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if g.Cols < 1 || g.Rows < 1 {
		errs = append(errs, errors.New("grid needs at least one column and one row"))
	}
	if g.Margin < 0 || g.GapX < 0 || g.GapY < 0 {
		errs = append(errs, errors.New("margin and gaps must not be negative"))
	}
	if g.ArtifactAspect <= 0 {
		errs = append(errs, errors.New("artifact aspect must be positive"))
	}
	if g.Fill <= 0 || g.Fill > 1 {
		errs = append(errs, errors.New("fill must be in (0, 1]"))
	}
	if len(errs) > 0 {
		return Layout{}, errors.Join(errs...)
	}
	layout := Layout{Geometry: g}
	layout.cellWidth = (g.PageWidth - 2*g.Margin - float64(g.Cols-1)*g.GapX) / float64(g.Cols)
	layout.cellHeight = (g.PageHeight - 2*g.Margin - float64(g.Rows-1)*g.GapY) / float64(g.Rows)
	if layout.cellWidth <= 0 || layout.cellHeight <= 0 {
		return Layout{}, fmt.Errorf("grid %dx%d does not fit the page", g.Cols, g.Rows)
	}
	return layout, nil
}

func (l Layout) CellWidth() float64  { return l.cellWidth }
func (l Layout) CellHeight() float64 { return l.cellHeight }

func (l Layout) PerPage() int {
	return l.Cols * l.Rows
}

// Pages is the number of pages n items occupy.
func (l Layout) Pages(n int) int {
	if n <= 0 {
		return 0
	}
	per := l.PerPage()
	return (n + per - 1) / per
}

// ItemsOnPage is how many of n items land on zero-based page p.
func (l Layout) ItemsOnPage(n, p int) int {
	per := l.PerPage()
	if p < 0 || p >= l.Pages(n) {
		return 0
	}
	return min(per, n-p*per)
}

// Cell places item i in row-major order and returns its zero-based page.
func (l Layout) Cell(i int) (int, Rect) {
	per := l.PerPage()
	page := i / per
	slot := i % per
	col := slot % l.Cols
	row := slot / l.Cols
	return page, Rect{
		X: l.Margin + float64(col)*(l.cellWidth+l.GapX),
		Y: l.Margin + float64(row)*(l.cellHeight+l.GapY),
		W: l.cellWidth,
		H: l.cellHeight,
	}
}

// Fit centers the largest artifact-shaped rectangle that fills cell by
// the Fill fraction along its limiting side.
func (l Layout) Fit(cell Rect) Rect {
	var w, h float64
	if cell.W/cell.H > l.ArtifactAspect {
		h = cell.H * l.Fill
		w = h * l.ArtifactAspect
	} else {
		w = cell.W * l.Fill
		h = w / l.ArtifactAspect
	}
	return Rect{
		X: cell.X + (cell.W-w)/2,
		Y: cell.Y + (cell.H-h)/2,
		W: w,
		H: h,
	}
}

// CutGuides returns two short marks per corner of r, pushed outward by
// CutGuideOffset so they never overlap the card.
func (l Layout) CutGuides(r Rect) []Segment {
	off, length := l.CutGuideOffset, l.CutGuideLength
	if length <= 0 {
		return nil
	}
	corners := []struct{ x, y, dx, dy float64 }{
		{r.X, r.Y, -1, -1},
		{r.X + r.W, r.Y, 1, -1},
		{r.X, r.Y + r.H, -1, 1},
		{r.X + r.W, r.Y + r.H, 1, 1},
	}
	segments := make([]Segment, 0, 8)
	for _, c := range corners {
		segments = append(segments,
			Segment{X1: c.x + c.dx*off, Y1: c.y, X2: c.x + c.dx*(off+length), Y2: c.y},
			Segment{X1: c.x, Y1: c.y + c.dy*off, X2: c.x, Y2: c.y + c.dy*(off+length)},
		)
	}
	return segments
}

// Landscape is the A4 landscape 4x2 sheet.
func Landscape() Geometry {
	return Geometry{
		PageWidth:      a4Long,
		PageHeight:     a4Short,
		Margin:         30,
		Cols:           4,
		Rows:           2,
		GapX:           20,
		GapY:           20,
		ArtifactAspect: CardAspect,
		Fill:           0.98,
		CutGuideOffset: 3,
		CutGuideLength: 8,
	}
}

// Portrait is the A4 portrait 3x4 sheet.
func Portrait() Geometry {
	return Geometry{
		PageWidth:      a4Short,
		PageHeight:     a4Long,
		Margin:         30,
		Cols:           3,
		Rows:           4,
		GapX:           20,
		GapY:           20,
		ArtifactAspect: CardAspect,
		Fill:           0.98,
		CutGuideOffset: 3,
		CutGuideLength: 8,
	}
}

// Preset resolves a layout by name.
func Preset(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "landscape":
		return NewLayout(Landscape())
	case "portrait":
		return NewLayout(Portrait())
	default:
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
	}
}
