package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/joho/godotenv"

	"github.com/JuampaBiron/tcrs-document-processor/internal/blobstore"
	"github.com/JuampaBiron/tcrs-document-processor/internal/config"
	"github.com/JuampaBiron/tcrs-document-processor/internal/documents"
	"github.com/JuampaBiron/tcrs-document-processor/internal/gcp"
	"github.com/JuampaBiron/tcrs-document-processor/internal/httpapi"
	"github.com/JuampaBiron/tcrs-document-processor/internal/raster"
	"github.com/JuampaBiron/tcrs-document-processor/internal/requestdata"
	"github.com/JuampaBiron/tcrs-document-processor/internal/services"
)

var (
	app      *httpapi.App
	router   http.Handler
	once     sync.Once
	initErr  error
	logLevel = new(slog.LevelVar)
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	functions.HTTP("ProcessDocuments", processDocuments)
	functions.CloudEvent("RetryDocuments", retryDocuments)
}

// main runs the functions locally. Deployed functions are started by the
// platform and never reach it.
func main() {
	_ = godotenv.Load()

	port := config.GetEnv("PORT", "8080")
	slog.Info("Starting local functions server.", "port", port)
	if err := funcframework.Start(port); err != nil {
		slog.Error("CRITICAL: functions server stopped", "error", err)
		os.Exit(1)
	}
}

func setup() {
	once.Do(func() {
		app, initErr = newApp(context.Background())
		if initErr == nil {
			router = httpapi.NewRouter(app)
		}
	})
}

func processDocuments(w http.ResponseWriter, r *http.Request) {
	setup()
	if initErr != nil {
		slog.Error("CRITICAL: Document processor initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func retryDocuments(ctx context.Context, e cloudevents.Event) error {
	setup()
	if initErr != nil {
		// Returning the error lets Pub/Sub redeliver once the configuration is fixed.
		slog.Error("CRITICAL: Document processor initialization failed", "error", initErr)
		return initErr
	}
	return app.HandleRetryEvent(ctx, e)
}

// newApp builds every client once per instance and injects them into the
// generator.
func newApp(ctx context.Context) (*httpapi.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logLevel.Set(cfg.LogLevel)

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	requests, err := requestdata.NewClient(cfg.APIBaseURL, cfg.InternalFunctionKey, cfg.Pipeline.APITimeout, nil)
	if err != nil {
		return nil, fmt.Errorf("create request data client: %w", err)
	}

	deps := services.Dependencies{
		Requests: requests,
		Recorder: requests,
		Store:    store,
		Merger: documents.NewConsolidator(documents.StampOptions{
			Enabled:  cfg.Pipeline.StampEnabled,
			Position: cfg.Pipeline.StampPosition,
		}),
		Rasterizer: raster.NewConverter(raster.FitzRenderer{}, raster.Options{
			DPI:      cfg.Pipeline.RasterDPI,
			MaxWidth: cfg.Pipeline.RasterMaxWidth,
			Quality:  cfg.Pipeline.RasterQuality,
		}, slog.Default()),
	}

	if cfg.StatusBackend == config.StatusBackendFirestore || cfg.LeaseEnabled {
		fsClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		if cfg.StatusBackend == config.StatusBackendFirestore {
			deps.Recorder = gcp.NewFirestoreStatusStore(fsClient, cfg.FirestoreCollection)
		}
		if cfg.LeaseEnabled {
			deps.Leaser = gcp.NewFirestoreLeaser(fsClient, cfg.LeaseCollection, cfg.LeaseTTL)
		}
	}

	if cfg.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return nil, err
		}
		deps.Notifier = notifier
	}

	generator, err := services.NewDocumentGenerator(cfg.Pipeline, deps)
	if err != nil {
		return nil, fmt.Errorf("create document generator: %w", err)
	}
	return &httpapi.App{Processor: generator}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMinIO:
		client, err := blobstore.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		store, err := blobstore.NewMinioStore(client, cfg.ArtifactBucket, cfg.Pipeline.UploadTimeout)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		store, err := gcp.NewGCSStore(client, cfg.ArtifactBucket, cfg.SigningServiceAccount, cfg.Pipeline.UploadTimeout)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
