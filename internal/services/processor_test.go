package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/JuampaBiron/tcrs-document-processor/internal/blobstore"
	"github.com/JuampaBiron/tcrs-document-processor/internal/config"
	"github.com/JuampaBiron/tcrs-document-processor/internal/documents"
	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
	"github.com/JuampaBiron/tcrs-document-processor/internal/raster"
	"github.com/JuampaBiron/tcrs-document-processor/internal/status"
)

const (
	testRequestID = "202412150001"
	sourceObject  = "invoices/2024/12/inv-202412150001.pdf"
	sourceURL     = "https://storage.googleapis.com/tcrs-docs/" + sourceObject
)

var runAt = time.Date(2024, 12, 15, 14, 30, 0, 0, time.UTC)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// events is the shared, ordered log of side effects across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *events) index(prefix string) int {
	for i, s := range e.list() {
		if strings.HasPrefix(s, prefix) {
			return i
		}
	}
	return -1
}

type fakeRecorder struct {
	ev      *events
	mu      sync.Mutex
	records []models.GenerationStatusRecord
	err     error
}

func (r *fakeRecorder) UpdateStatus(_ context.Context, rec models.GenerationStatusRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	r.ev.add("status:" + string(rec.Status))
	return r.err
}

func (r *fakeRecorder) statuses() []models.GenerationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.GenerationStatus, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Status
	}
	return out
}

func (r *fakeRecorder) last() models.GenerationStatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

type fakeRequests struct {
	ev   *events
	data *models.RemoteRequestData
	err  error
}

func (f *fakeRequests) FetchRequestData(_ context.Context, id string) (*models.RemoteRequestData, error) {
	f.ev.add("fetch:" + id)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.data
	return &cp, nil
}

type memStore struct {
	ev      *events
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	scheme  string
}

func (s *memStore) Bucket() string { return "tcrs-docs" }

func (s *memStore) Put(_ context.Context, object string, data []byte, _ string) (blobstore.Location, error) {
	s.ev.add("put:" + object)
	loc := blobstore.Location{Scheme: s.scheme, Bucket: "tcrs-docs", Object: object}
	if s.putErr != nil {
		return loc, &blobstore.StoreError{Op: "put", Location: loc, Err: s.putErr}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[object] = append([]byte(nil), data...)
	return loc, nil
}

func (s *memStore) Get(_ context.Context, loc blobstore.Location) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[loc.Object]
	if !ok {
		return nil, &blobstore.StoreError{Op: "get", Location: loc, Err: blobstore.ErrNotFound}
	}
	return data, nil
}

func (s *memStore) SignedURL(_ context.Context, loc blobstore.Location, expiry time.Duration) (string, error) {
	q := url.Values{}
	q.Set("X-Goog-Expires", fmt.Sprint(int(expiry.Seconds())))
	q.Set(blobstore.NonceParam, blobstore.NewNonce())
	return "https://storage.googleapis.com/" + loc.Bucket + "/" + loc.Object + "?" + q.Encode(), nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// recordingMerger keeps the signature page it was given.
type recordingMerger struct {
	inner     *documents.Consolidator
	signature []byte
}

func (m *recordingMerger) Merge(source, signature []byte, stamp string) ([]byte, error) {
	m.signature = signature
	return m.inner.Merge(source, signature, stamp)
}

type fakeRasterizer struct {
	size  int
	panic bool
}

func (r *fakeRasterizer) Convert(_ context.Context, pdf []byte) (*raster.Result, error) {
	if r.panic {
		panic("mupdf crashed")
	}
	n := r.size
	if n == 0 {
		n = 1024
	}
	return &raster.Result{Data: bytes.Repeat([]byte{0x49}, n), Width: 100, Height: 200, Pages: 1}, nil
}

type fakeLeaser struct {
	held     bool
	released int
}

func (l *fakeLeaser) Acquire(context.Context, string) (func(context.Context) error, error) {
	if l.held {
		return nil, status.ErrLeaseHeld
	}
	return func(context.Context) error { l.released++; return nil }, nil
}

type fakeNotifier struct {
	events []models.CompletionEvent
}

func (n *fakeNotifier) NotifyCompleted(_ context.Context, ev models.CompletionEvent) error {
	n.events = append(n.events, ev)
	return nil
}

type harness struct {
	ev       *events
	recorder *fakeRecorder
	requests *fakeRequests
	store    *memStore
	merger   *recordingMerger
	raster   *fakeRasterizer
	gen      *DocumentGeneratorFunction
}

func sourcePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.CellFormat(0, 20, fmt.Sprintf("Invoice page %d", i+1), "", 1, "L", false, 0, "")
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("build source pdf: %v", err)
	}
	return buf.Bytes()
}

func newHarness(t *testing.T, mutate func(*config.PipelineConfig, *Dependencies)) *harness {
	t.Helper()
	ev := &events{}
	h := &harness{
		ev:       ev,
		recorder: &fakeRecorder{ev: ev},
		requests: &fakeRequests{ev: ev, data: &models.RemoteRequestData{
			RequestID:     testRequestID,
			InvoicePdfURL: sourceURL,
			RequestInfo:   map[string]any{"vendor": "Acme Supplies"},
			GLCodingData: []models.CodingLine{{
				AccountCode:  "1000",
				FacilityCode: "MAIN",
				TaxCode:      "GST",
				Amount:       1500.00,
			}},
		}},
		store:  &memStore{ev: ev, objects: map[string][]byte{sourceObject: sourcePDF(t, 2)}},
		merger: &recordingMerger{inner: documents.NewConsolidator(documents.StampOptions{Enabled: true, Position: "right"})},
		raster: &fakeRasterizer{},
	}
	cfg := config.DefaultPipeline()
	deps := Dependencies{
		Requests:   h.requests,
		Recorder:   h.recorder,
		Store:      h.store,
		Merger:     h.merger,
		Rasterizer: h.raster,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	gen, err := NewDocumentGenerator(cfg, deps)
	if err != nil {
		t.Fatalf("NewDocumentGenerator() err=%v", err)
	}
	gen.now = func() time.Time { return runAt }
	h.gen = gen
	return h
}

func validRequest(isRetry bool) models.ProcessingRequest {
	return models.ProcessingRequest{
		RequestID:     testRequestID,
		ApproverName:  "Jordan Smith",
		ApproverEmail: "jordan.smith@example.com",
		Timestamp:     runAt.Add(-time.Minute),
		IsRetry:       isRetry,
	}
}

func wantStatuses(t *testing.T, got []models.GenerationStatus, want ...models.GenerationStatus) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("statuses=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses=%v, want %v", got, want)
		}
	}
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.gen.Process(context.Background(), validRequest(false))
	if err != nil {
		t.Fatalf("Process() err=%v", err)
	}

	wantStatuses(t, h.recorder.statuses(), models.StatusProcessing, models.StatusCompleted)
	if p, put := h.ev.index("status:processing"), h.ev.index("put:"); p < 0 || put < 0 || p > put || p > h.ev.index("fetch:") {
		t.Fatalf("processing not recorded before work: %v", h.ev.list())
	}

	if !resp.Success || resp.Status != models.StatusCompleted || resp.RequestID != testRequestID {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Folder != "invoices/2024/12/" {
		t.Fatalf("folder=%q", resp.Folder)
	}
	pdfName := "invoices/2024/12/202412150001_consolidated_20241215_143000.pdf"
	tiffName := "invoices/2024/12/202412150001_document_20241215_143000.tiff"
	for _, u := range []string{resp.GeneratedFiles.ConsolidatedPdf, resp.GeneratedFiles.TiffImage} {
		parsed, err := url.Parse(u)
		if err != nil {
			t.Fatalf("parse %q: %v", u, err)
		}
		if parsed.Query().Get("X-Goog-Expires") != "3600" {
			t.Fatalf("url %q does not carry the configured expiry", u)
		}
	}
	if !strings.Contains(resp.GeneratedFiles.ConsolidatedPdf, pdfName) || !strings.Contains(resp.GeneratedFiles.TiffImage, tiffName) {
		t.Fatalf("generated files=%+v", resp.GeneratedFiles)
	}

	merged := h.store.objects[pdfName]
	n, err := documents.NewConsolidator(documents.StampOptions{}).PageCount(merged)
	if err != nil || n != 3 {
		t.Fatalf("consolidated pages=%d err=%v, want 3", n, err)
	}
	if !bytes.Contains(h.merger.signature, []byte("1000 - MAIN: $1,500.00")) {
		t.Fatalf("signature page missing coding summary line")
	}
	if resp.FileSizes.ConsolidatedPdfBytes != int64(len(merged)) || resp.FileSizes.TiffImageBytes != 1024 {
		t.Fatalf("file sizes=%+v", resp.FileSizes)
	}

	done := h.recorder.last()
	if done.ConsolidatedPdfURL != resp.GeneratedFiles.ConsolidatedPdf || done.ProcessingTimeMs == nil {
		t.Fatalf("completed record=%+v", done)
	}
	if len(resp.Performance.Stages) == 0 || resp.Performance.Stages[0].Stage != "mark_processing" {
		t.Fatalf("performance=%+v", resp.Performance)
	}
}

func TestProcessEmptyCodingLinesFailsBeforeUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.requests.data.GLCodingData = nil

	_, err := h.gen.Process(context.Background(), validRequest(false))
	var serr *StageError
	if !errors.As(err, &serr) || serr.Kind != KindRender {
		t.Fatalf("err=%v, want render StageError", err)
	}
	var rerr *documents.RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("err=%v does not wrap *documents.RenderError", err)
	}
	if h.ev.index("put:") >= 0 {
		t.Fatalf("upload happened after render failure: %v", h.ev.list())
	}
	wantStatuses(t, h.recorder.statuses(), models.StatusProcessing, models.StatusFailed)
	if msg := h.recorder.last().ErrorMessage; msg == nil || !strings.HasPrefix(*msg, "Failed to render signature page") {
		t.Fatalf("error message=%v", msg)
	}
}

func TestProcessRetryAfterFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.requests.err = errors.New("Failed to fetch request data: 503 - upstream unavailable")

	if _, err := h.gen.Process(context.Background(), validRequest(false)); err == nil {
		t.Fatalf("first Process() expected error")
	}
	h.requests.err = nil
	if _, err := h.gen.Process(context.Background(), validRequest(true)); err != nil {
		t.Fatalf("retry Process() err=%v", err)
	}
	wantStatuses(t, h.recorder.statuses(),
		models.StatusProcessing, models.StatusFailed,
		models.StatusProcessing, models.StatusCompleted)
}

func TestProcessSignedURLsDifferAcrossRunsWithSameNames(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.gen.Process(context.Background(), validRequest(false))
	if err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	second, err := h.gen.Process(context.Background(), validRequest(true))
	if err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if first.GeneratedFiles.ConsolidatedPdf == second.GeneratedFiles.ConsolidatedPdf {
		t.Fatalf("signed URLs repeated across runs")
	}
	// Same names were overwritten: source plus two artifacts.
	if n := h.store.count(); n != 3 {
		t.Fatalf("stored objects=%d, want 3", n)
	}
}

func TestProcessStatusUpdateFailureIsAdvisory(t *testing.T) {
	h := newHarness(t, nil)
	h.recorder.err = errors.New("status service returned 502")

	resp, err := h.gen.Process(context.Background(), validRequest(false))
	if err != nil {
		t.Fatalf("Process() err=%v, want success despite status errors", err)
	}
	if !resp.Success {
		t.Fatalf("resp=%+v", resp)
	}
	wantStatuses(t, h.recorder.statuses(), models.StatusProcessing, models.StatusCompleted)
}

func TestProcessFailureIsSanitized(t *testing.T) {
	h := newHarness(t, nil)
	h.requests.err = errors.New(`Get "https://tcrs.example.com/api/internal/request-data/202412150001?code=abc": x-function-key=s3cr3t rejected`)

	_, err := h.gen.Process(context.Background(), validRequest(false))
	var serr *StageError
	if !errors.As(err, &serr) || serr.Kind != KindFetch || serr.Public != "Failed to fetch request data" {
		t.Fatalf("err=%v", err)
	}
	msg := *h.recorder.last().ErrorMessage
	for _, leaked := range []string{"tcrs.example.com", "s3cr3t", "/api/internal"} {
		if strings.Contains(msg, leaked) {
			t.Fatalf("status message %q leaks %q", msg, leaked)
		}
	}
}

func TestProcessStageFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		mut   func(*config.PipelineConfig, *Dependencies)
		want  Kind
	}{
		{
			name:  "missing source",
			setup: func(h *harness) { delete(h.store.objects, sourceObject) },
			want:  KindFetch,
		},
		{
			name:  "corrupt source",
			setup: func(h *harness) { h.store.objects[sourceObject] = []byte("not a pdf") },
			want:  KindConsolidate,
		},
		{
			name:  "upload fails",
			setup: func(h *harness) { h.store.putErr = blobstore.ErrPermission },
			want:  KindStore,
		},
		{
			name:  "artifact too large",
			setup: func(h *harness) { h.raster.size = 2 << 20 },
			mut:   func(c *config.PipelineConfig, _ *Dependencies) { c.MaxArtifactMB = 1 },
			want:  KindStore,
		},
		{
			name:  "local source disabled",
			setup: func(h *harness) { h.requests.data.InvoicePdfURL = "file:///tmp/inv.pdf" },
			want:  KindFetch,
		},
		{
			name:  "rasterizer panics",
			setup: func(h *harness) { h.raster.panic = true },
			want:  KindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mut)
			tt.setup(h)
			resp, err := h.gen.Process(context.Background(), validRequest(false))
			if resp != nil {
				t.Fatalf("resp=%+v, want nil", resp)
			}
			var serr *StageError
			if !errors.As(err, &serr) || serr.Kind != tt.want {
				t.Fatalf("err=%v, want kind %s", err, tt.want)
			}
			wantStatuses(t, h.recorder.statuses(), models.StatusProcessing, models.StatusFailed)
		})
	}
}

func TestProcessLeaseHeldRejectsWithoutStatus(t *testing.T) {
	leaser := &fakeLeaser{held: true}
	h := newHarness(t, func(_ *config.PipelineConfig, d *Dependencies) { d.Leaser = leaser })

	_, err := h.gen.Process(context.Background(), validRequest(true))
	var serr *StageError
	if !errors.As(err, &serr) || serr.Kind != KindConflict || serr.Kind.HTTPStatus() != 409 {
		t.Fatalf("err=%v, want conflict", err)
	}
	if got := h.recorder.statuses(); len(got) != 0 {
		t.Fatalf("statuses=%v, want none", got)
	}
}

func TestProcessReleasesLeaseAndNotifiesWorkflow(t *testing.T) {
	leaser := &fakeLeaser{}
	notifier := &fakeNotifier{}
	h := newHarness(t, func(_ *config.PipelineConfig, d *Dependencies) {
		d.Leaser = leaser
		d.Notifier = notifier
	})

	if _, err := h.gen.Process(context.Background(), validRequest(false)); err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if leaser.released != 1 {
		t.Fatalf("lease released %d times, want 1", leaser.released)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("notifications=%d, want 1", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.ConsolidatedPdf != "gs://tcrs-docs/invoices/2024/12/202412150001_consolidated_20241215_143000.pdf" || ev.Folder != "invoices/2024/12/" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestProcessCompletionEventUsesStoreScheme(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newHarness(t, func(_ *config.PipelineConfig, d *Dependencies) {
		d.Notifier = notifier
		d.Store.(*memStore).scheme = blobstore.SchemeS3
	})

	if _, err := h.gen.Process(context.Background(), validRequest(false)); err != nil {
		t.Fatalf("Process() err=%v", err)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("notifications=%d, want 1", len(notifier.events))
	}
	ev := notifier.events[0]
	if !strings.HasPrefix(ev.ConsolidatedPdf, "s3://tcrs-docs/") || !strings.HasPrefix(ev.TiffImage, "s3://tcrs-docs/") {
		t.Fatalf("event=%+v", ev)
	}
}

func TestProcessRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)
	req := validRequest(false)
	req.RequestID = "12345"
	_, err := h.gen.Process(context.Background(), req)
	var serr *StageError
	if !errors.As(err, &serr) || serr.Kind != KindValidation {
		t.Fatalf("err=%v, want validation", err)
	}
	if len(h.ev.list()) != 0 {
		t.Fatalf("side effects on invalid request: %v", h.ev.list())
	}
}
