package packager

import (
	"context"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

// DefaultMaxSheetItems caps the cards a single print sheet may hold.
const DefaultMaxSheetItems = 500

type SheetOptions struct {
	Layout    Layout
	MaxItems  int
	CutGuides bool
	Title     string
}

// CheckSheetSize rejects counts a print sheet cannot hold.
func CheckSheetSize(count, maxItems int) error {
	if maxItems <= 0 {
		maxItems = DefaultMaxSheetItems
	}
	if count > maxItems {
		return fmt.Errorf("%w: %d requested, at most %d", ErrTooManyItems, count, maxItems)
	}
	return nil
}

// Sheet lays the cards out on PDF pages in identifier order with a
// "page / total" footer on every page.
func Sheet(ctx context.Context, in Input, opts SheetOptions, w io.Writer) error {
	if len(in.Items) == 0 {
		return &Error{Op: "sheet", Err: ErrNoItems}
	}
	if err := CheckSheetSize(len(in.Items), opts.MaxItems); err != nil {
		return &Error{Op: "sheet", Err: err}
	}
	if err := checkDuplicates(in.Items); err != nil {
		return &Error{Op: "sheet", Err: err}
	}
	layout := opts.Layout
	if layout.PerPage() == 0 {
		var err error
		if layout, err = NewLayout(Landscape()); err != nil {
			return &Error{Op: "sheet", Err: err}
		}
	}

	items := sortedItems(in.Items)
	totalPages := layout.Pages(len(items))
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: layout.PageWidth, Ht: layout.PageHeight},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCreator("qrbatch", true)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	if !in.CreatedAt.IsZero() {
		pdf.SetCreationDate(in.CreatedAt)
		pdf.SetModificationDate(in.CreatedAt)
	}
	pdf.SetFooterFunc(func() {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetXY(0, layout.PageHeight-22)
		pdf.CellFormat(layout.PageWidth, 10, fmt.Sprintf("%d / %d", pdf.PageNo(), totalPages), "", 0, "C", false, 0, "")
	})
	pdf.SetLineWidth(0.5)
	pdf.SetDrawColor(120, 120, 120)

	currentPage := -1
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return &Error{Op: "sheet", Err: err}
		}
		page, cell := layout.Cell(i)
		if page != currentPage {
			pdf.AddPage()
			currentPage = page
		}
		box := layout.Fit(cell)
		pdf.ImageOptions(item.Path, box.X, box.Y, box.W, box.H, false,
			fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		if opts.CutGuides {
			for _, seg := range layout.CutGuides(box) {
				pdf.Line(seg.X1, seg.Y1, seg.X2, seg.Y2)
			}
		}
		if err := pdf.Error(); err != nil {
			return &Error{Op: "sheet", Err: fmt.Errorf("place %s: %w", item.Identifier, err)}
		}
	}
	if err := pdf.Output(w); err != nil {
		return &Error{Op: "sheet", Err: err}
	}
	return nil
}
