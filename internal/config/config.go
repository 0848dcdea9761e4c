package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "DOCGEN_CONFIG_FILE"

// Blob and status backends.
const (
	BlobBackendGCS   = "gcs"
	BlobBackendMinIO = "minio"

	StatusBackendAPI       = "api"
	StatusBackendFirestore = "firestore"
)

// Config holds everything the document processor needs at startup.
type Config struct {
	ProjectID string

	BlobBackend           string
	ArtifactBucket        string
	SigningServiceAccount string
	MinIO                 MinIOConfig

	APIBaseURL          string
	InternalFunctionKey string

	StatusBackend       string
	FirestoreCollection string

	LeaseEnabled    bool
	LeaseCollection string
	LeaseTTL        time.Duration

	WorkflowID       string
	WorkflowLocation string

	Pipeline PipelineConfig
	LogLevel slog.Level
}

// MinIOConfig describes an S3-compatible endpoint used instead of GCS.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// PipelineConfig carries the tuning values of the generation pipeline. These
// are the only settings that may also come from the YAML file.
type PipelineConfig struct {
	RasterDPI        float64       `yaml:"rasterDpi"`
	RasterMaxWidth   int           `yaml:"rasterMaxWidth"`
	RasterQuality    int           `yaml:"rasterQuality"`
	SignedURLExpiry  time.Duration `yaml:"signedUrlExpiry"`
	UploadTimeout    time.Duration `yaml:"uploadTimeout"`
	APITimeout       time.Duration `yaml:"apiTimeout"`
	PipelineTimeout  time.Duration `yaml:"pipelineTimeout"`
	StampEnabled     bool          `yaml:"stampEnabled"`
	StampPosition    string        `yaml:"stampPosition"`
	AllowLocalSource bool          `yaml:"allowLocalSource"`
	MaxArtifactMB    int           `yaml:"maxArtifactMb"`
}

// DefaultPipeline returns the pipeline settings used when nothing is configured.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		RasterDPI:       100,
		RasterMaxWidth:  1700,
		RasterQuality:   85,
		SignedURLExpiry: time.Hour,
		UploadTimeout:   5 * time.Minute,
		APITimeout:      30 * time.Second,
		PipelineTimeout: 9 * time.Minute,
		StampEnabled:    true,
		StampPosition:   "right",
		MaxArtifactMB:   50,
	}
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Load reads the optional YAML tuning file, applies environment variables on
// top and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Pipeline: DefaultPipeline(),
	}

	if path := os.Getenv(configFileEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var fileCfg struct {
			Pipeline PipelineConfig `yaml:"pipeline"`
		}
		fileCfg.Pipeline = cfg.Pipeline
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Pipeline = fileCfg.Pipeline
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ProjectID = GetEnv("PROJECT_ID", "")
	c.BlobBackend = strings.ToLower(GetEnv("BLOB_BACKEND", BlobBackendGCS))
	c.ArtifactBucket = GetEnv("ARTIFACT_BUCKET", "")
	c.SigningServiceAccount = GetEnv("SIGNING_SERVICE_ACCOUNT", "")
	c.APIBaseURL = strings.TrimRight(GetEnv("TCRS_API_BASE_URL", ""), "/")
	c.InternalFunctionKey = GetEnv("INTERNAL_FUNCTION_KEY", "")
	c.StatusBackend = strings.ToLower(GetEnv("STATUS_BACKEND", StatusBackendAPI))
	c.FirestoreCollection = GetEnv("FIRESTORE_COLLECTION", "documentsGeneration")
	c.LeaseCollection = GetEnv("LEASE_COLLECTION", "documentsGenerationLeases")
	c.WorkflowID = GetEnv("WORKFLOW_ID", "")
	c.WorkflowLocation = GetEnv("WORKFLOW_LOCATION", "us-central1")

	c.MinIO = MinIOConfig{
		Endpoint:  GetEnv("MINIO_ENDPOINT", ""),
		AccessKey: GetEnv("MINIO_ACCESS_KEY", ""),
		SecretKey: GetEnv("MINIO_SECRET_KEY", ""),
		Region:    GetEnv("MINIO_REGION", "us-east-1"),
	}

	var err error
	if c.MinIO.UseSSL, err = Bool("MINIO_USE_SSL", true); err != nil {
		return err
	}
	if c.LeaseEnabled, err = Bool("LEASE_ENABLED", false); err != nil {
		return err
	}
	if c.LeaseTTL, err = Duration("LEASE_TTL", 10*time.Minute); err != nil {
		return err
	}
	if c.LogLevel, err = Level("LOG_LEVEL", slog.LevelInfo); err != nil {
		return err
	}

	p := &c.Pipeline
	if p.RasterDPI, err = Float("RASTER_DPI", p.RasterDPI); err != nil {
		return err
	}
	if p.RasterMaxWidth, err = Int("RASTER_MAX_WIDTH", p.RasterMaxWidth); err != nil {
		return err
	}
	if p.RasterQuality, err = Int("RASTER_QUALITY", p.RasterQuality); err != nil {
		return err
	}
	if p.SignedURLExpiry, err = Duration("SIGNED_URL_EXPIRY", p.SignedURLExpiry); err != nil {
		return err
	}
	if p.UploadTimeout, err = Duration("UPLOAD_TIMEOUT", p.UploadTimeout); err != nil {
		return err
	}
	if p.APITimeout, err = Duration("API_TIMEOUT", p.APITimeout); err != nil {
		return err
	}
	if p.PipelineTimeout, err = Duration("PIPELINE_TIMEOUT", p.PipelineTimeout); err != nil {
		return err
	}
	if p.StampEnabled, err = Bool("STAMP_ENABLED", p.StampEnabled); err != nil {
		return err
	}
	p.StampPosition = strings.ToLower(GetEnv("STAMP_POSITION", p.StampPosition))
	if p.AllowLocalSource, err = Bool("ALLOW_LOCAL_SOURCE", p.AllowLocalSource); err != nil {
		return err
	}
	if p.MaxArtifactMB, err = Int("MAX_ARTIFACT_MB", p.MaxArtifactMB); err != nil {
		return err
	}
	return nil
}

// Validate checks that required settings are present and tuning values are sane.
func (c *Config) Validate() error {
	switch c.BlobBackend {
	case BlobBackendGCS:
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET environment variable must be set")
		}
	case BlobBackendMinIO:
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET environment variable must be set")
		}
		if c.MinIO.Endpoint == "" || c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY must be set when BLOB_BACKEND=minio")
		}
		if strings.Contains(c.MinIO.Endpoint, "://") {
			return fmt.Errorf("MINIO_ENDPOINT must not include a scheme: %q", c.MinIO.Endpoint)
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	// The request data service is always needed to fetch coding data.
	if c.APIBaseURL == "" || c.InternalFunctionKey == "" {
		return fmt.Errorf("TCRS_API_BASE_URL and INTERNAL_FUNCTION_KEY must be set")
	}

	switch c.StatusBackend {
	case StatusBackendAPI:
	case StatusBackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set when STATUS_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("unknown STATUS_BACKEND %q", c.StatusBackend)
	}
	if c.LeaseEnabled && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set when LEASE_ENABLED=true")
	}
	if c.WorkflowID != "" && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set when WORKFLOW_ID is set")
	}

	return c.Pipeline.Validate()
}

// Validate checks the pipeline tuning values.
func (p PipelineConfig) Validate() error {
	if p.RasterDPI <= 0 {
		return fmt.Errorf("raster dpi must be positive, got %v", p.RasterDPI)
	}
	if p.RasterMaxWidth <= 0 {
		return fmt.Errorf("raster max width must be positive, got %d", p.RasterMaxWidth)
	}
	if p.RasterQuality < 1 || p.RasterQuality > 100 {
		return fmt.Errorf("raster quality must be between 1 and 100, got %d", p.RasterQuality)
	}
	if p.SignedURLExpiry <= 0 || p.SignedURLExpiry > 7*24*time.Hour {
		return fmt.Errorf("signed url expiry must be within (0, 168h], got %s", p.SignedURLExpiry)
	}
	if p.UploadTimeout <= 0 || p.APITimeout <= 0 || p.PipelineTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if p.StampPosition != "right" && p.StampPosition != "left" {
		return fmt.Errorf("stamp position must be right or left, got %q", p.StampPosition)
	}
	if p.MaxArtifactMB <= 0 {
		return fmt.Errorf("max artifact size must be positive, got %d", p.MaxArtifactMB)
	}
	return nil
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func Bool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func Int(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func Float(key string, def float64) (float64, error) {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return f, nil
	}
	return def, nil
}

// Level parses a slog level name such as "debug" or "WARN".
func Level(key string, def slog.Level) (slog.Level, error) {
	if v, ok := os.LookupEnv(key); ok {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err != nil {
			return def, fmt.Errorf("parse %s: %w", key, err)
		}
		return lvl, nil
	}
	return def, nil
}
