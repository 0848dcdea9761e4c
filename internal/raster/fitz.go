package raster

import (
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer renders pages with MuPDF.
type FitzRenderer struct{}

func (FitzRenderer) Open(pdf []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc}, nil
}

// fitzDocument is not safe for concurrent use; pages are rendered in order.
type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) NumPage() int { return d.doc.NumPage() }

func (d *fitzDocument) Page(n int, dpi float64) (image.Image, error) {
	return d.doc.ImageDPI(n, dpi)
}

func (d *fitzDocument) Close() error { return d.doc.Close() }
