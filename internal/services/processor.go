package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/JuampaBiron/tcrs-document-processor/internal/blobstore"
	"github.com/JuampaBiron/tcrs-document-processor/internal/config"
	"github.com/JuampaBiron/tcrs-document-processor/internal/documents"
	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
	"github.com/JuampaBiron/tcrs-document-processor/internal/perf"
	"github.com/JuampaBiron/tcrs-document-processor/internal/raster"
	"github.com/JuampaBiron/tcrs-document-processor/internal/status"
)

const statusWriteTimeout = 30 * time.Second

// RequestSource returns the current data of a request.
type RequestSource interface {
	FetchRequestData(ctx context.Context, requestID string) (*models.RemoteRequestData, error)
}

// Merger appends the signature page to the source invoice.
type Merger interface {
	Merge(source, signature []byte, stampText string) ([]byte, error)
}

// Rasterizer turns the consolidated PDF into the TIFF artifact.
type Rasterizer interface {
	Convert(ctx context.Context, pdf []byte) (*raster.Result, error)
}

// CompletionNotifier is told about every completed request.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, ev models.CompletionEvent) error
}

// Dependencies are the collaborators of the generator. Leaser and Notifier
// are optional.
type Dependencies struct {
	Requests   RequestSource
	Recorder   status.Recorder
	Store      blobstore.Store
	Merger     Merger
	Rasterizer Rasterizer
	Leaser     status.Leaser
	Notifier   CompletionNotifier
}

// DocumentGeneratorFunction runs the generation pipeline for one request at
// a time; it holds no per-request state and is safe for concurrent use.
type DocumentGeneratorFunction struct {
	deps   Dependencies
	config config.PipelineConfig
	now    func() time.Time
}

func NewDocumentGenerator(cfg config.PipelineConfig, deps Dependencies) (*DocumentGeneratorFunction, error) {
	if deps.Requests == nil || deps.Recorder == nil || deps.Store == nil || deps.Merger == nil || deps.Rasterizer == nil {
		return nil, fmt.Errorf("request source, status recorder, store, merger and rasterizer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Info("Document generator initialized.",
		"bucket", deps.Store.Bucket(),
		"rasterDpi", cfg.RasterDPI,
		"rasterMaxWidth", cfg.RasterMaxWidth,
		"rasterQuality", cfg.RasterQuality,
		"leaseEnabled", deps.Leaser != nil,
		"workflowEnabled", deps.Notifier != nil,
	)
	return &DocumentGeneratorFunction{deps: deps, config: cfg, now: time.Now}, nil
}

// Process runs one complete attempt for req. On failure the returned error
// is always a *StageError, and unless the run was rejected before starting
// the status has been moved to failed.
func (f *DocumentGeneratorFunction) Process(ctx context.Context, req models.ProcessingRequest) (resp *models.ProcessingSuccessResponse, err error) {
	logCtx := slog.With("requestId", req.RequestID, "isRetry", req.IsRetry)
	logCtx.Info("Processing document generation request.", "approverEmail", req.ApproverEmail)

	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	startedAt := f.now()
	tracker := perf.NewTracker(logCtx)
	defer tracker.LogSummary(logCtx)

	// Status writes must outlive a cancelled or timed out pipeline.
	statusCtx := context.WithoutCancel(ctx)

	ctx, cancel := context.WithTimeout(ctx, f.config.PipelineTimeout)
	defer cancel()

	if f.deps.Leaser != nil {
		release, err := f.deps.Leaser.Acquire(ctx, req.RequestID)
		switch {
		case errors.Is(err, status.ErrLeaseHeld):
			logCtx.Warn("Another invocation holds the lease. Rejecting.")
			return nil, stageError(KindConflict, "acquire lease", err)
		case err != nil:
			logCtx.Warn("Failed to acquire lease. Continuing without it.", "error", err)
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(statusCtx, statusWriteTimeout)
				defer cancel()
				if err := release(releaseCtx); err != nil {
					logCtx.Warn("Failed to release lease.", "error", err)
				}
			}()
		}
	}

	run := status.NewRun(f.deps.Recorder, req.RequestID, req.IsRetry, logCtx)
	_ = tracker.Track("mark_processing", func() error {
		writeCtx, cancel := context.WithTimeout(statusCtx, statusWriteTimeout)
		defer cancel()
		return run.Start(writeCtx)
	})

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Recovered from panic in pipeline.", "panic", r)
			resp = nil
			err = f.handleError(statusCtx, logCtx, run, startedAt, stageError(KindInternal, "pipeline", fmt.Errorf("panic: %v", r)))
		}
	}()

	resp, serr := f.run(ctx, logCtx, tracker, run, req, startedAt)
	if serr != nil {
		return nil, f.handleError(statusCtx, logCtx, run, startedAt, serr)
	}
	return resp, nil
}

func (f *DocumentGeneratorFunction) run(ctx context.Context, logCtx *slog.Logger, tracker *perf.Tracker, run *status.Run, req models.ProcessingRequest, startedAt time.Time) (*models.ProcessingSuccessResponse, *StageError) {
	var data *models.RemoteRequestData
	if err := tracker.Track("fetch_request_data", func() (err error) {
		data, err = f.deps.Requests.FetchRequestData(ctx, req.RequestID)
		return err
	}); err != nil {
		return nil, stageError(KindFetch, "fetch request data", err)
	}

	var source []byte
	var sourceLoc blobstore.Location
	if err := tracker.Track("download_source_pdf", func() (err error) {
		source, sourceLoc, err = f.loadSource(ctx, data.InvoicePdfURL)
		return err
	}); err != nil {
		return nil, stageError(KindFetch, "download source pdf", err)
	}
	logCtx = logCtx.With("folder", sourceLoc.Folder())
	logCtx.Info("Downloaded source PDF.", "size", humanize.Bytes(uint64(len(source))))

	var signature []byte
	if err := tracker.Track("render_signature_page", func() (err error) {
		signature, err = documents.RenderSignaturePage(documents.SignatureInput{
			RequestID:     req.RequestID,
			ApproverName:  req.ApproverName,
			ApproverEmail: req.ApproverEmail,
			ApprovedAt:    req.Timestamp,
			GeneratedAt:   startedAt,
			Vendor:        data.Vendor(),
			Lines:         data.GLCodingData,
		})
		return err
	}); err != nil {
		return nil, stageError(KindRender, "render signature page", err)
	}

	var merged []byte
	if err := tracker.Track("merge_documents", func() (err error) {
		merged, err = f.deps.Merger.Merge(source, signature, documents.Stamp(req.RequestID, req.ApproverName, req.Timestamp))
		return err
	}); err != nil {
		return nil, stageError(KindConsolidate, "merge documents", err)
	}

	var tiff *raster.Result
	if err := tracker.Track("convert_to_tiff", func() (err error) {
		tiff, err = f.deps.Rasterizer.Convert(ctx, merged)
		return err
	}); err != nil {
		return nil, stageError(KindRaster, "convert to tiff", err)
	}

	pdfName, tiffName := ArtifactNames(sourceLoc.Folder(), req.RequestID, startedAt)
	artifacts := []models.GeneratedArtifact{
		{Kind: models.ArtifactConsolidatedPDF, Data: merged, ContentType: "application/pdf", Name: pdfName},
		{Kind: models.ArtifactTIFFImage, Data: tiff.Data, ContentType: "image/tiff", Name: tiffName},
	}
	limit := int64(f.config.MaxArtifactMB) << 20
	for _, a := range artifacts {
		if a.Size() > limit {
			return nil, stageError(KindStore, "check artifact size",
				fmt.Errorf("%s is %s, limit is %d MB", a.Kind, humanize.Bytes(uint64(a.Size())), f.config.MaxArtifactMB))
		}
	}

	locations := make([]blobstore.Location, len(artifacts))
	if err := tracker.Track("upload_artifacts", func() error {
		g, gctx := errgroup.WithContext(ctx)
		for i, a := range artifacts {
			g.Go(func() error {
				loc, err := f.deps.Store.Put(gctx, a.Name, a.Data, a.ContentType)
				if err != nil {
					return err
				}
				locations[i] = loc
				logCtx.Info("Uploaded artifact.", "kind", a.Kind, "object", a.Name, "size", humanize.Bytes(uint64(a.Size())))
				return nil
			})
		}
		return g.Wait()
	}); err != nil {
		return nil, stageError(KindStore, "upload artifacts", err)
	}

	urls := make([]string, len(locations))
	if err := tracker.Track("generate_signed_urls", func() error {
		for i, loc := range locations {
			u, err := f.deps.Store.SignedURL(ctx, loc, f.config.SignedURLExpiry)
			if err != nil {
				return err
			}
			urls[i] = u
		}
		return nil
	}); err != nil {
		return nil, stageError(KindStore, "sign urls", err)
	}

	elapsed := f.now().Sub(startedAt)
	_ = tracker.Track("mark_completed", func() error {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancel()
		return run.Complete(writeCtx, urls[0], urls[1], elapsed)
	})

	if f.deps.Notifier != nil {
		ev := models.CompletionEvent{
			RequestID:       req.RequestID,
			ConsolidatedPdf: locations[0].String(),
			TiffImage:       locations[1].String(),
			Folder:          sourceLoc.Folder(),
		}
		if err := tracker.Track("notify_workflow", func() error { return f.deps.Notifier.NotifyCompleted(ctx, ev) }); err != nil {
			logCtx.Warn("Failed to hand off completed request to workflow.", "error", err)
		}
	}

	logCtx.Info("Document generation completed.", "elapsedMs", elapsed.Milliseconds())
	return &models.ProcessingSuccessResponse{
		Success:   true,
		RequestID: req.RequestID,
		GeneratedFiles: models.GeneratedFiles{
			ConsolidatedPdf: urls[0],
			TiffImage:       urls[1],
		},
		FileSizes: models.FileSizes{
			ConsolidatedPdfBytes: artifacts[0].Size(),
			ConsolidatedPdfMB:    megabytes(artifacts[0].Size()),
			TiffImageBytes:       artifacts[1].Size(),
			TiffImageMB:          megabytes(artifacts[1].Size()),
		},
		ProcessedAt:      f.now().UTC().Format(time.RFC3339),
		ProcessingTimeMs: elapsed.Milliseconds(),
		IsRetry:          req.IsRetry,
		Folder:           sourceLoc.Folder(),
		Status:           models.StatusCompleted,
		Performance:      tracker.Report(),
	}, nil
}

// loadSource reads the invoice PDF from the store, or from disk for file://
// references when local sources are enabled.
func (f *DocumentGeneratorFunction) loadSource(ctx context.Context, ref string) ([]byte, blobstore.Location, error) {
	loc, err := blobstore.ParseLocation(ref, f.deps.Store.Bucket())
	if errors.Is(err, blobstore.ErrLocalSource) {
		if !f.config.AllowLocalSource {
			return nil, blobstore.Location{}, fmt.Errorf("local file sources are disabled")
		}
		u, err := url.Parse(ref)
		if err != nil {
			return nil, blobstore.Location{}, err
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, blobstore.Location{}, err
		}
		return data, blobstore.Location{}, nil
	}
	if err != nil {
		return nil, blobstore.Location{}, err
	}
	data, err := f.deps.Store.Get(ctx, loc)
	if err != nil {
		return nil, loc, err
	}
	return data, loc, nil
}

func (f *DocumentGeneratorFunction) handleError(ctx context.Context, logCtx *slog.Logger, run *status.Run, startedAt time.Time, serr *StageError) error {
	logCtx.Error(serr.Public, "stage", serr.Op, "kind", serr.Kind.String(), "error", serr.Err)
	if serr.Kind.RecordsStatus() && !run.Terminal() {
		writeCtx, cancel := context.WithTimeout(ctx, statusWriteTimeout)
		defer cancel()
		// The run's own logging already flags a failed write as CRITICAL.
		_ = run.Fail(writeCtx, serr.StatusMessage(), f.now().Sub(startedAt))
	}
	return serr
}

func megabytes(n int64) float64 {
	return math.Round(float64(n)/(1<<20)*100) / 100
}
