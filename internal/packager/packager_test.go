package packager

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"

	"qrbatch/internal/interval"
)

func writeCards(t *testing.T, zone string, start, count int) []Item {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 25, 41))
	for y := 0; y < 41; y++ {
		for x := 0; x < 25; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 6), B: 200, A: 255})
		}
	}
	items := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		id := zone + padSequence(start+i)
		path := filepath.Join(dir, id+".png")
		file, err := os.Create(path)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := png.Encode(file, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		file.Close()
		items = append(items, Item{Identifier: id, Path: path})
	}
	return items
}

func padSequence(n int) string {
	digits := []byte("00000")
	for i := len(digits) - 1; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func TestCollectionEntries(t *testing.T) {
	items := writeCards(t, "12", 70000, 3)
	// Feed out of order to check sorting.
	items[0], items[2] = items[2], items[0]
	in := Input{
		Zone:      "12",
		ZoneName:  "alpha",
		Range:     interval.Range{Start: 70000, End: 70002},
		Items:     items,
		CreatedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := Collection(context.Background(), in, &buf); err != nil {
		t.Fatalf("collection: %v", err)
	}
	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	want := []string{
		"ALPHA_70000_70002/1270000.png",
		"ALPHA_70000_70002/1270001.png",
		"ALPHA_70000_70002/1270002.png",
	}
	if len(reader.File) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(reader.File))
	}
	for i, file := range reader.File {
		if file.Name != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], file.Name)
		}
		if file.Method != zip.Deflate {
			t.Fatalf("expected deflate for %s", file.Name)
		}
	}

	var again bytes.Buffer
	if err := Collection(context.Background(), in, &again); err != nil {
		t.Fatalf("collection: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Fatal("expected identical archives for identical input")
	}
}

func TestCollectionRejectsDuplicates(t *testing.T) {
	items := writeCards(t, "12", 1, 1)
	items = append(items, items[0])
	err := Collection(context.Background(), Input{ZoneName: "A", Items: items}, &bytes.Buffer{})
	var pkgErr *Error
	if !errors.As(err, &pkgErr) {
		t.Fatalf("expected packaging error, got %v", err)
	}
}

func TestCollectionRefusesEntriesOutsideFolder(t *testing.T) {
	items := writeCards(t, "12", 1, 1)
	for _, identifier := range []string{"../../x00001", "sub/x00001", `..\x00001`, ".."} {
		bad := []Item{{Identifier: identifier, Path: items[0].Path}}
		var buf bytes.Buffer
		err := Collection(context.Background(), Input{ZoneName: "ALPHA", Items: bad}, &buf)
		var pkgErr *Error
		if !errors.As(err, &pkgErr) {
			t.Fatalf("identifier %q: expected packaging error, got %v", identifier, err)
		}
	}
}

func TestLayoutPagination(t *testing.T) {
	layout, err := NewLayout(Landscape())
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if layout.Pages(9) != 2 {
		t.Fatalf("expected 2 pages for 9 items, got %d", layout.Pages(9))
	}
	if layout.ItemsOnPage(9, 0) != 8 || layout.ItemsOnPage(9, 1) != 1 {
		t.Fatalf("expected 8+1, got %d+%d", layout.ItemsOnPage(9, 0), layout.ItemsOnPage(9, 1))
	}
	if layout.Pages(0) != 0 || layout.Pages(8) != 1 {
		t.Fatalf("unexpected page counts")
	}
	page, cell := layout.Cell(8)
	if page != 1 || cell.X != layout.Margin || cell.Y != layout.Margin {
		t.Fatalf("expected item 8 at the top-left of page 1, got page %d %+v", page, cell)
	}
	_, cell = layout.Cell(5)
	if math.Abs(cell.X-(layout.Margin+layout.CellWidth()+layout.GapX)) > 1e-9 {
		t.Fatalf("unexpected column position %+v", cell)
	}
}

func TestLayoutGeometryIdentity(t *testing.T) {
	for name, geometry := range map[string]Geometry{"landscape": Landscape(), "portrait": Portrait()} {
		layout, err := NewLayout(geometry)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		width := float64(layout.Cols)*layout.CellWidth() + float64(layout.Cols-1)*layout.GapX + 2*layout.Margin
		height := float64(layout.Rows)*layout.CellHeight() + float64(layout.Rows-1)*layout.GapY + 2*layout.Margin
		if math.Abs(width-layout.PageWidth) > 1e-9 || math.Abs(height-layout.PageHeight) > 1e-9 {
			t.Fatalf("%s: grid %vx%v does not reconstruct page %vx%v", name, width, height, layout.PageWidth, layout.PageHeight)
		}
	}
}

func TestLayoutFitKeepsAspectAndCenters(t *testing.T) {
	layout, err := NewLayout(Landscape())
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	_, cell := layout.Cell(0)
	box := layout.Fit(cell)
	if math.Abs(box.W/box.H-CardAspect) > 1e-9 {
		t.Fatalf("aspect not preserved: %v", box.W/box.H)
	}
	if box.W > cell.W || box.H > cell.H {
		t.Fatalf("box %+v exceeds cell %+v", box, cell)
	}
	if math.Abs((box.X-cell.X)-(cell.X+cell.W-box.X-box.W)) > 1e-9 {
		t.Fatalf("box not centered horizontally")
	}
	if math.Abs(box.H-cell.H*0.98) > 1e-9 && math.Abs(box.W-cell.W*0.98) > 1e-9 {
		t.Fatalf("expected 98%% fill on the limiting side, got %+v in %+v", box, cell)
	}

	guides := layout.CutGuides(box)
	if len(guides) != 8 {
		t.Fatalf("expected 8 cut guides, got %d", len(guides))
	}
	first := guides[0]
	if first.X1 != box.X-layout.CutGuideOffset || first.X2 != box.X-layout.CutGuideOffset-layout.CutGuideLength {
		t.Fatalf("unexpected top-left guide %+v", first)
	}
}

func TestNewLayoutRejectsImpossibleGrid(t *testing.T) {
	geometry := Landscape()
	geometry.Cols = 100
	geometry.GapX = 20
	if _, err := NewLayout(geometry); err == nil {
		t.Fatal("expected grid that overflows the page to be rejected")
	}
	if _, err := Preset("poster"); !errors.Is(err, ErrUnknownLayout) {
		t.Fatalf("expected ErrUnknownLayout, got %v", err)
	}
}

var pageObject = regexp.MustCompile(`/Type /Page\b`)

func TestSheetPages(t *testing.T) {
	layout, err := Preset("landscape")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	items := writeCards(t, "12", 70000, 9)
	var buf bytes.Buffer
	err = Sheet(context.Background(), Input{
		ZoneName: "ALPHA",
		Range:    interval.Range{Start: 70000, End: 70008},
		Items:    items,
	}, SheetOptions{Layout: layout, CutGuides: true}, &buf)
	if err != nil {
		t.Fatalf("sheet: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatal("expected PDF output")
	}
	if pages := len(pageObject.FindAll(buf.Bytes(), -1)); pages != 2 {
		t.Fatalf("expected 2 pages, got %d", pages)
	}
	perPage := imagesPerPage(t, buf.Bytes())
	if len(perPage) != 2 || perPage[0] != 8 || perPage[1] != 1 {
		t.Fatalf("expected 8 cards then 1 card, got %v", perPage)
	}
}

var (
	pdfStream   = regexp.MustCompile(`(?s)>>\s*stream\n(.*?)\nendstream`)
	imageDrawOp = regexp.MustCompile(`/I\w+ Do`)
)

// imagesPerPage counts image draws in each page content stream. Page
// streams are written first, in page order, ahead of every resource.
func imagesPerPage(t *testing.T, pdf []byte) []int {
	t.Helper()
	pages := len(pageObject.FindAll(pdf, -1))
	counts := make([]int, 0, pages)
	for _, match := range pdfStream.FindAllSubmatch(pdf, -1) {
		if len(counts) == pages {
			break
		}
		reader, err := zlib.NewReader(bytes.NewReader(match[1]))
		if err != nil {
			t.Fatalf("page stream is not deflated: %v", err)
		}
		content, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			t.Fatalf("inflate page stream: %v", err)
		}
		counts = append(counts, len(imageDrawOp.FindAll(content, -1)))
	}
	return counts
}

func TestSheetRejectsOversizedInput(t *testing.T) {
	items := make([]Item, 600)
	for i := range items {
		items[i] = Item{Identifier: "12" + padSequence(i+1), Path: "/nonexistent"}
	}
	err := Sheet(context.Background(), Input{ZoneName: "ALPHA", Items: items}, SheetOptions{MaxItems: 500}, &bytes.Buffer{})
	if !errors.Is(err, ErrTooManyItems) {
		t.Fatalf("expected ErrTooManyItems, got %v", err)
	}
	if err := CheckSheetSize(500, 500); err != nil {
		t.Fatalf("expected 500 items to fit, got %v", err)
	}
}

func TestDigestStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(path, []byte("qrbatch"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := Digest(path)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, _ := Digest(path)
	if first != second || len(first) != 64 {
		t.Fatalf("unexpected digests %q %q", first, second)
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("saint louis", interval.Range{Start: 1, End: 20}); got != "SAINT_LOUIS_1_20" {
		t.Fatalf("unexpected base name %q", got)
	}
}
