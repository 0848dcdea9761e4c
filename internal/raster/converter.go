// Package raster turns a PDF into a single tall TIFF image: every page is
// rendered, narrowed to a maximum width and stacked top to bottom.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"log/slog"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

var (
	ErrNoPages           = errors.New("document has no pages")
	ErrUnsupportedFormat = errors.New("source is not a PDF document")
)

// RasterError wraps a rasterization failure. Page is 1-based, 0 when the
// failure is not tied to a page.
type RasterError struct {
	Page int
	Err  error
}

func (e *RasterError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("rasterize page %d: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("rasterize: %v", e.Err)
}

func (e *RasterError) Unwrap() error { return e.Err }

// Document is an opened source that can render its pages one at a time.
type Document interface {
	NumPage() int
	// Page renders the zero-based page n at dpi.
	Page(n int, dpi float64) (image.Image, error)
	Close() error
}

// PageRenderer opens PDF bytes for rendering.
type PageRenderer interface {
	Open(pdf []byte) (Document, error)
}

// Options are the raster tuning values.
type Options struct {
	DPI      float64
	MaxWidth int
	Quality  int // 1..100, 100 keeps full colour
}

// Result is the encoded image with its geometry.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Pages  int
}

// Converter renders PDFs into a combined TIFF.
type Converter struct {
	renderer PageRenderer
	opts     Options
	logger   *slog.Logger
}

func NewConverter(renderer PageRenderer, opts Options, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{renderer: renderer, opts: opts, logger: logger}
}

// Convert rasterizes every page of pdf in order and returns one TIFF with
// the pages stacked vertically.
func (c *Converter) Convert(ctx context.Context, pdf []byte) (*Result, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(pdf, " \t\r\n"), []byte("%PDF-")) {
		return nil, &RasterError{Err: ErrUnsupportedFormat}
	}

	doc, err := c.renderer.Open(pdf)
	if err != nil {
		return nil, &RasterError{Err: fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)}
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, &RasterError{Err: ErrNoPages}
	}

	pages := make([]image.Image, 0, n)
	width, height := 0, 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &RasterError{Page: i + 1, Err: err}
		}
		img, err := doc.Page(i, c.opts.DPI)
		if err != nil {
			return nil, &RasterError{Page: i + 1, Err: err}
		}
		img = FitWidth(img, c.opts.MaxWidth)
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
		pages = append(pages, img)
		c.logger.Debug("Rendered page.", "page", i+1, "width", b.Dx(), "height", b.Dy())
	}

	combined := Stack(pages, width, height)
	out := reduce(combined, c.opts.Quality)

	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate}
	if _, paletted := out.(*image.Paletted); !paletted {
		opts.Predictor = true
	}
	if err := tiff.Encode(&buf, out, opts); err != nil {
		return nil, &RasterError{Err: fmt.Errorf("encode tiff: %w", err)}
	}

	res := &Result{Data: buf.Bytes(), Width: width, Height: height, Pages: n}
	if err := Verify(res); err != nil {
		c.logger.Warn("TIFF validation failed.", "error", err)
	}
	c.logger.Info("Created TIFF image.",
		"pages", n,
		"width", width,
		"height", height,
		"size", humanize.Bytes(uint64(len(res.Data))),
	)
	return res, nil
}

// FitWidth downscales img to maxWidth pixels wide with Catmull-Rom
// resampling, keeping the aspect ratio. Narrower images are returned as is.
func FitWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := (b.Dy()*maxWidth + b.Dx()/2) / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Stack draws pages top to bottom on a white canvas of the given size,
// centring pages narrower than the canvas.
func Stack(pages []image.Image, width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	y := 0
	for _, p := range pages {
		b := p.Bounds()
		x := (width - b.Dx()) / 2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), p, b.Min, draw.Over)
		y += b.Dy()
	}
	return canvas
}

// reduce drops colour information according to quality. TIFF has no lossy
// mode in x/image, so quality is spent on the pixel format instead:
//
//	95..100  full RGBA
//	50..94   216 colour web-safe palette with Floyd-Steinberg dithering,
//	         one byte per pixel
//	1..49    grey posterized to fewer levels as quality drops
func reduce(img *image.RGBA, quality int) image.Image {
	b := img.Bounds()
	switch {
	case quality >= 95:
		return img
	case quality >= 50:
		p := image.NewPaletted(b, palette.WebSafe)
		draw.FloydSteinberg.Draw(p, b, img, b.Min)
		return p
	default:
		g := image.NewGray(b)
		draw.Draw(g, b, img, b.Min, draw.Src)
		levels := 2 + quality*14/49
		step := 255 / (levels - 1)
		for i, v := range g.Pix {
			g.Pix[i] = uint8(min((int(v)+step/2)/step*step, 255))
		}
		return g
	}
}

// Verify decodes the header of an encoded result and checks its size.
func Verify(res *Result) error {
	cfg, err := tiff.DecodeConfig(bytes.NewReader(res.Data))
	if err != nil {
		return fmt.Errorf("decode tiff: %w", err)
	}
	if cfg.Width != res.Width || cfg.Height != res.Height {
		return fmt.Errorf("tiff is %dx%d, want %dx%d", cfg.Width, cfg.Height, res.Width, res.Height)
	}
	return nil
}
