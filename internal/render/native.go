package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"
)

// NativeBackend draws cards in process: a QR code of the identifier on a
// plain card with the zone name above and the identifier below.
type NativeBackend struct {
	Workers       int
	RecoveryLevel qrcode.RecoveryLevel
}

func NewNativeBackend(workers int) *NativeBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &NativeBackend{Workers: workers, RecoveryLevel: qrcode.Medium}
}

func (b *NativeBackend) Name() string {
	return "native"
}

func (b *NativeBackend) Render(ctx context.Context, batch Batch, progress func(line string)) error {
	if err := batch.Style.Validate(); err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, b.Workers))
	for _, task := range batch.Tasks {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if err := b.renderCard(task, batch.ZoneName, batch.Style); err != nil {
				return fmt.Errorf("render %s: %w", task.Identifier, err)
			}
			if progress != nil {
				progress("rendered " + task.Identifier)
			}
			return nil
		})
	}
	return group.Wait()
}

func (b *NativeBackend) renderCard(task Task, zoneName string, style CardStyle) error {
	card, err := b.drawCard(task.Identifier, zoneName, style)
	if err != nil {
		return err
	}
	return writePNG(task.Target, card)
}

func (b *NativeBackend) drawCard(identifier, zoneName string, style CardStyle) (*image.RGBA, error) {
	fg, _ := parseHexColor(style.Foreground)
	bg, _ := parseHexColor(style.Background)

	card := image.NewRGBA(image.Rect(0, 0, style.Width, style.Height))
	draw.Draw(card, card.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	margin := style.Width / 12
	side := style.Width - 2*margin
	band := (style.Height - side) / 2

	code, err := qrcode.New(identifier, b.RecoveryLevel)
	if err != nil {
		return nil, err
	}
	code.ForegroundColor = fg
	code.BackgroundColor = bg
	qr := code.Image(side)
	qrTop := band
	draw.NearestNeighbor.Scale(card, image.Rect(margin, qrTop, margin+side, qrTop+side), qr, qr.Bounds(), draw.Over, nil)

	if style.zoneNameVisible() && zoneName != "" {
		drawLabel(card, zoneName, image.Rect(margin, band/4, style.Width-margin, band*3/4), fg)
	}
	bottom := qrTop + side
	drawLabel(card, identifier, image.Rect(margin, bottom+band/4, style.Width-margin, bottom+band*3/4), fg)
	return card, nil
}

// drawLabel renders text with the fixed 7x13 face and scales it to fit
// area, keeping the glyph aspect ratio.
func drawLabel(dst *image.RGBA, text string, area image.Rectangle, fg color.Color) {
	if area.Dx() <= 0 || area.Dy() <= 0 || text == "" {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()
	if width <= 0 || height <= 0 {
		return
	}
	glyphs := image.NewRGBA(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)

	scale := min(float64(area.Dx())/float64(width), float64(area.Dy())/float64(height))
	scaledW := int(float64(width) * scale)
	scaledH := int(float64(height) * scale)
	x := area.Min.X + (area.Dx()-scaledW)/2
	y := area.Min.Y + (area.Dy()-scaledH)/2
	draw.NearestNeighbor.Scale(dst, image.Rect(x, y, x+scaledW, y+scaledH), glyphs, glyphs.Bounds(), draw.Over, nil)
}

func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
