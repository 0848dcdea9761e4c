package models

import "time"

// ProcessingRequest is the trigger payload sent by the approval flow or by the
// manual retry button. It carries just enough to locate the request; the rest
// is fetched from the request data service on every run.
type ProcessingRequest struct {
	RequestID     string    `json:"requestId"`
	ApproverName  string    `json:"approverName"`
	ApproverEmail string    `json:"approverEmail"`
	Timestamp     time.Time `json:"timestamp"`
	IsRetry       bool      `json:"isRetry"`
}

// CodingLine is one GL coding entry attached to a request.
type CodingLine struct {
	AccountCode         string  `json:"accountCode"`
	AccountDescription  string  `json:"accountDescription"`
	FacilityCode        string  `json:"facilityCode"`
	FacilityDescription string  `json:"facilityDescription"`
	TaxCode             string  `json:"taxCode"`
	Amount              float64 `json:"amount"`
	Equipment           string  `json:"equipment,omitempty"`
	Comments            string  `json:"comments,omitempty"`
}

// RemoteRequestData is the complete request as returned by the request data service.
type RemoteRequestData struct {
	RequestID     string         `json:"requestId"`
	InvoicePdfURL string         `json:"invoicePdfUrl"`
	RequestInfo   map[string]any `json:"requestInfo"`
	GLCodingData  []CodingLine   `json:"glCodingData"`
	ApproverInfo  map[string]any `json:"approverInfo"`
}

// Vendor returns the vendor name from the request info, if the service sent one.
func (d *RemoteRequestData) Vendor() string {
	if d == nil || d.RequestInfo == nil {
		return ""
	}
	if v, ok := d.RequestInfo["vendor"].(string); ok {
		return v
	}
	return ""
}

// ArtifactKind identifies which of the two generated files an artifact is.
type ArtifactKind string

const (
	ArtifactConsolidatedPDF ArtifactKind = "consolidated-pdf"
	ArtifactTIFFImage       ArtifactKind = "tiff-image"
)

// GeneratedArtifact is a file produced by the pipeline, held in memory only
// until it has been stored and signed.
type GeneratedArtifact struct {
	Kind        ArtifactKind
	Data        []byte
	ContentType string
	Name        string
}

// Size returns the payload size in bytes.
func (a GeneratedArtifact) Size() int64 {
	return int64(len(a.Data))
}
