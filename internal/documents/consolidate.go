package documents

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func init() {
	// Cloud Functions only has a writable /tmp; pdfcpu must not try to
	// install its config directory under $HOME.
	api.DisableConfigDir()
}

// Part names the input a ConsolidationError refers to.
type Part string

const (
	PartSource    Part = "source"
	PartSignature Part = "signature"
	PartMerged    Part = "merged"
)

// ConsolidationError reports which input of a merge was unusable.
type ConsolidationError struct {
	Part Part
	Err  error
}

func (e *ConsolidationError) Error() string {
	switch e.Part {
	case PartSource:
		return fmt.Sprintf("source document corrupt: %v", e.Err)
	case PartSignature:
		return fmt.Sprintf("signature page corrupt: %v", e.Err)
	default:
		return fmt.Sprintf("merge documents: %v", e.Err)
	}
}

func (e *ConsolidationError) Unwrap() error { return e.Err }

// StampOptions controls the vertical approval line placed on the first page.
type StampOptions struct {
	Enabled  bool
	Position string // "right" or "left"
}

// Stamp is the approval line written on the first page.
func Stamp(requestID, approverName string, approvedAt time.Time) string {
	return fmt.Sprintf("%s - %s - %s", requestID, approvedAt.UTC().Format("2006-01-02 15:04"), approverName)
}

// Consolidator merges the source invoice with the signature page. It is safe
// for concurrent use.
type Consolidator struct {
	stamp StampOptions
}

func NewConsolidator(stamp StampOptions) *Consolidator {
	return &Consolidator{stamp: stamp}
}

// newConfig returns a fresh relaxed pdfcpu configuration. pdfcpu writes into
// the configuration on every call, so it is never shared between calls.
func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF.
func (c *Consolidator) PageCount(pdf []byte) (int, error) {
	return api.PageCount(bytes.NewReader(pdf), newConfig())
}

// Merge returns a new PDF holding every page of source followed by the
// signature page. Neither input is modified. When stamping is enabled the
// approval line is drawn on page 1 with the given text.
func (c *Consolidator) Merge(source, signature []byte, stampText string) ([]byte, error) {
	srcPages, err := c.check(source)
	if err != nil {
		return nil, &ConsolidationError{Part: PartSource, Err: err}
	}
	sigPages, err := c.check(signature)
	if err != nil {
		return nil, &ConsolidationError{Part: PartSignature, Err: err}
	}

	var merged bytes.Buffer
	inputs := []io.ReadSeeker{bytes.NewReader(source), bytes.NewReader(signature)}
	if err := api.MergeRaw(inputs, &merged, false, newConfig()); err != nil {
		return nil, &ConsolidationError{Part: PartMerged, Err: err}
	}

	out := merged.Bytes()
	if c.stamp.Enabled && stampText != "" {
		stamped, err := c.addStamp(out, stampText)
		if err != nil {
			return nil, &ConsolidationError{Part: PartMerged, Err: fmt.Errorf("stamp first page: %w", err)}
		}
		out = stamped
	}

	got, err := c.PageCount(out)
	if err != nil {
		return nil, &ConsolidationError{Part: PartMerged, Err: err}
	}
	if want := srcPages + sigPages; got != want {
		return nil, &ConsolidationError{Part: PartMerged, Err: fmt.Errorf("merged document has %d pages, want %d", got, want)}
	}
	return out, nil
}

func (c *Consolidator) check(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, fmt.Errorf("empty document")
	}
	if err := api.Validate(bytes.NewReader(pdf), newConfig()); err != nil {
		return 0, err
	}
	n, err := c.PageCount(pdf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

func (c *Consolidator) addStamp(pdf []byte, text string) ([]byte, error) {
	pos, offset := "r", "-14 0"
	if c.stamp.Position == "left" {
		pos, offset = "l", "14 0"
	}
	desc := fmt.Sprintf("fontname:Helvetica, points:9, scalefactor:1 abs, position:%s, offset:%s, rotation:90, fillcolor:#808080, opacity:1", pos, offset)

	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("build stamp: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(pdf), &out, []string{"1"}, wm, newConfig()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
