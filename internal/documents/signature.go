// Package documents builds the consolidated approval PDF: it draws the
// signature and GL coding page, merges it behind the source invoice and
// stamps the approval line on the first page.
package documents

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

var (
	ErrNoCodingLines     = errors.New("no coding lines to render")
	ErrNonPositiveAmount = errors.New("coding line amount must be positive")
	ErrPageOverflow      = errors.New("coding lines do not fit on a single page")
)

// RenderError reports why the signature page could not be drawn.
type RenderError struct {
	Line int // 1-based coding line, 0 when not line specific
	Err  error
}

func (e *RenderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("render signature page: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("render signature page: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// SignatureInput is everything drawn on the signature page.
type SignatureInput struct {
	RequestID     string
	ApproverName  string
	ApproverEmail string
	ApprovedAt    time.Time
	GeneratedAt   time.Time
	Vendor        string
	Lines         []models.CodingLine
}

const (
	pageMargin   = 36.0 // 0.5in
	topMargin    = 54.0 // 0.75in
	bottomMargin = 54.0
	cellPadding  = 4.0
)

// Column layout of the coding table as fractions of the printable width.
var tableColumns = []struct {
	header string
	width  float64
}{
	{"Account Code", 0.10},
	{"Account Description", 0.20},
	{"Facility Code", 0.10},
	{"Facility Description", 0.20},
	{"Tax Code", 0.08},
	{"Amount", 0.12},
	{"Equipment & Comments", 0.20},
}

// Font scales tried in order until the page fits.
var fitScales = []float64{1.0, 0.85, 0.7, 0.6}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount as dollars with two decimals and thousands
// separators, e.g. 1500 -> "$1,500.00".
func FormatAmount(amount float64) string {
	return amountPrinter.Sprintf("$%.2f", amount)
}

// SummaryLine is the one-line text for a coding entry on the signature page.
func SummaryLine(l models.CodingLine) string {
	return fmt.Sprintf("%s - %s: %s", l.AccountCode, l.FacilityCode, FormatAmount(l.Amount))
}

// RenderSignaturePage draws the approval summary page and returns it as a
// one-page PDF. The same input always produces the same page.
func RenderSignaturePage(in SignatureInput) ([]byte, error) {
	if len(in.Lines) == 0 {
		return nil, &RenderError{Err: ErrNoCodingLines}
	}
	for i, l := range in.Lines {
		if !(l.Amount > 0) {
			return nil, &RenderError{Line: i + 1, Err: ErrNonPositiveAmount}
		}
	}

	for _, scale := range fitScales {
		pdf, fits := drawSignaturePage(in, scale)
		if err := pdf.Error(); err != nil {
			return nil, &RenderError{Err: err}
		}
		if !fits {
			continue
		}
		var buf bytes.Buffer
		if err := pdf.Output(&buf); err != nil {
			return nil, &RenderError{Err: err}
		}
		return buf.Bytes(), nil
	}
	return nil, &RenderError{Err: ErrPageOverflow}
}

func drawSignaturePage(in SignatureInput, scale float64) (*fpdf.Fpdf, bool) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pageMargin, topMargin, pageMargin)
	pdf.SetAutoPageBreak(false, bottomMargin)
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(in.ApprovedAt.UTC())
	pdf.SetModificationDate(in.ApprovedAt.UTC())
	pdf.SetTitle(fmt.Sprintf("Approval %s", in.RequestID), true)
	pdf.SetProducer("TCRS Document Processor", false)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := pdf.GetPageSize()
	width := pageW - 2*pageMargin

	pdf.SetFont("Helvetica", "B", 18*scale)
	pdf.CellFormat(width, 24*scale, "Approval Signature & GL Coding Details", "", 1, "C", false, 0, "")
	pdf.Ln(8 * scale)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11*scale)
		pdf.CellFormat(110*scale, 16*scale, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11*scale)
		pdf.CellFormat(width-110*scale, 16*scale, tr(value), "", 1, "L", false, 0, "")
	}
	field("Request ID:", in.RequestID)
	field("Approved by:", in.ApproverName)
	field("Approved at:", in.ApprovedAt.UTC().Format("2006-01-02 15:04:05")+" UTC")
	field("Approver email:", in.ApproverEmail)
	if in.Vendor != "" {
		field("Vendor:", in.Vendor)
	}
	pdf.Ln(8 * scale)

	pdf.SetFont("Helvetica", "B", 12*scale)
	pdf.CellFormat(width, 18*scale, "Coding Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 10*scale)
	for _, l := range in.Lines {
		pdf.CellFormat(width, 14*scale, tr(SummaryLine(l)), "", 1, "L", false, 0, "")
	}
	pdf.Ln(10 * scale)

	drawCodingTable(pdf, tr, in.Lines, width, scale)

	pdf.Ln(16 * scale)
	pdf.SetFont("Helvetica", "", 8*scale)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(width, 11*scale, "Generated on: "+in.GeneratedAt.UTC().Format("2006-01-02 15:04:05")+" UTC", "", 1, "L", false, 0, "")
	pdf.CellFormat(width, 11*scale, "TCRS Document Processing System", "", 1, "L", false, 0, "")

	return pdf, pdf.GetY() <= pageH-bottomMargin
}

const amountColumn = 5

// tableCell is one cell of a coding table row. A cell covers span columns
// (at least one). Nowrap cells stay on one line and shrink their font
// instead of wrapping.
type tableCell struct {
	text   string
	span   int
	align  string
	nowrap bool
}

// columnWidths lays out the coding table. The amount column grows to the
// widest amount it has to hold, taking the extra space from the two
// description columns.
func columnWidths(pdf *fpdf.Fpdf, amounts []string, width, scale float64) []float64 {
	colW := make([]float64, len(tableColumns))
	for i, c := range tableColumns {
		colW[i] = width * c.width
	}

	pdf.SetFont("Helvetica", "B", 9*scale)
	need := pdf.GetStringWidth("Amount")
	for _, a := range amounts {
		need = max(need, pdf.GetStringWidth(a))
	}
	need += 2*cellPadding + 2*pdf.GetCellMargin()
	if extra := need - colW[amountColumn]; extra > 0 {
		extra = min(extra, colW[1]/2+colW[3]/2)
		colW[amountColumn] += extra
		colW[1] -= extra / 2
		colW[3] -= extra / 2
	}
	return colW
}

func drawCodingTable(pdf *fpdf.Fpdf, tr func(string) string, lines []models.CodingLine, width, scale float64) {
	lineH := 11 * scale

	var total float64
	amounts := make([]string, 0, len(lines)+1)
	for _, l := range lines {
		amounts = append(amounts, FormatAmount(l.Amount))
		total += l.Amount
	}
	amounts = append(amounts, FormatAmount(total))
	colW := columnWidths(pdf, amounts, width, scale)

	row := func(cells []tableCell, style string, fill [3]int, textColor [3]int) {
		fontSize := 9 * scale
		pdf.SetFont("Helvetica", style, fontSize)
		widths := make([]float64, len(cells))
		split := make([][]string, len(cells))
		maxLines := 1
		col := 0
		for i, c := range cells {
			for k := 0; k < max(c.span, 1); k++ {
				widths[i] += colW[col]
				col++
			}
			if c.nowrap {
				split[i] = []string{tr(c.text)}
				continue
			}
			split[i] = pdf.SplitText(tr(c.text), widths[i]-2*cellPadding)
			maxLines = max(maxLines, len(split[i]))
		}
		rowH := float64(maxLines)*lineH + 2*cellPadding
		x, y := pdf.GetX(), pdf.GetY()
		pdf.SetFillColor(fill[0], fill[1], fill[2])
		pdf.SetTextColor(textColor[0], textColor[1], textColor[2])
		for i, c := range cells {
			pdf.Rect(x, y, widths[i], rowH, "FD")
			inner := widths[i] - 2*cellPadding
			if c.nowrap {
				avail := inner - 2*pdf.GetCellMargin()
				if w := pdf.GetStringWidth(split[i][0]); w > avail {
					pdf.SetFontSize(fontSize * avail / w)
				}
			}
			for j, text := range split[i] {
				pdf.SetXY(x+cellPadding, y+cellPadding+float64(j)*lineH)
				pdf.CellFormat(inner, lineH, text, "", 0, c.align, false, 0, "")
			}
			pdf.SetFontSize(fontSize)
			x += widths[i]
		}
		pdf.SetXY(pageMargin, y+rowH)
	}

	headers := make([]tableCell, len(tableColumns))
	for i, c := range tableColumns {
		headers[i] = tableCell{text: c.header, align: "C"}
	}

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.75)
	row(headers, "B", [3]int{128, 128, 128}, [3]int{245, 245, 245})

	for i, l := range lines {
		fill := [3]int{255, 255, 255}
		if i%2 == 1 {
			fill = [3]int{224, 255, 255}
		}
		row([]tableCell{
			{text: l.AccountCode, align: "L"},
			{text: l.AccountDescription, align: "L"},
			{text: l.FacilityCode, align: "L"},
			{text: l.FacilityDescription, align: "L"},
			{text: l.TaxCode, align: "L"},
			{text: amounts[i], align: "R", nowrap: true},
			{text: equipmentAndComments(l), align: "L"},
		}, "", fill, [3]int{0, 0, 0})
	}

	row([]tableCell{
		{text: "TOTAL:", span: amountColumn, align: "R", nowrap: true},
		{text: amounts[len(lines)], align: "R", nowrap: true},
		{text: "", align: "L"},
	}, "B", [3]int{211, 211, 211}, [3]int{0, 0, 0})
}

func equipmentAndComments(l models.CodingLine) string {
	switch {
	case l.Equipment != "" && l.Comments != "":
		return "Equipment: " + l.Equipment + "\nComments: " + l.Comments
	case l.Equipment != "":
		return "Equipment: " + l.Equipment
	case l.Comments != "":
		return "Comments: " + l.Comments
	default:
		return "-"
	}
}
