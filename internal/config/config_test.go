package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ARTIFACT_BUCKET", "tcrs-documents")
	t.Setenv("TCRS_API_BASE_URL", "https://tcrs.example.com/")
	t.Setenv("INTERNAL_FUNCTION_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.BlobBackend != BlobBackendGCS {
		t.Fatalf("BlobBackend=%q", cfg.BlobBackend)
	}
	if cfg.StatusBackend != StatusBackendAPI {
		t.Fatalf("StatusBackend=%q", cfg.StatusBackend)
	}
	if cfg.APIBaseURL != "https://tcrs.example.com" {
		t.Fatalf("APIBaseURL=%q, want trailing slash trimmed", cfg.APIBaseURL)
	}
	if cfg.Pipeline != DefaultPipeline() {
		t.Fatalf("Pipeline=%+v, want defaults", cfg.Pipeline)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "docgen.yaml")
	body := "pipeline:\n  rasterDpi: 150\n  rasterQuality: 60\n  signedUrlExpiry: 30m\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configFileEnv, path)
	t.Setenv("RASTER_QUALITY", "70")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Pipeline.RasterDPI != 150 {
		t.Fatalf("RasterDPI=%v, want 150 from file", cfg.Pipeline.RasterDPI)
	}
	if cfg.Pipeline.RasterQuality != 70 {
		t.Fatalf("RasterQuality=%d, want env override 70", cfg.Pipeline.RasterQuality)
	}
	if cfg.Pipeline.SignedURLExpiry != 30*time.Minute {
		t.Fatalf("SignedURLExpiry=%s", cfg.Pipeline.SignedURLExpiry)
	}
	if cfg.Pipeline.RasterMaxWidth != DefaultPipeline().RasterMaxWidth {
		t.Fatalf("RasterMaxWidth=%d, want default kept", cfg.Pipeline.RasterMaxWidth)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "quality out of range", env: map[string]string{"RASTER_QUALITY": "0"}},
		{name: "bad duration", env: map[string]string{"SIGNED_URL_EXPIRY": "soon"}},
		{name: "unknown blob backend", env: map[string]string{"BLOB_BACKEND": "azure"}},
		{name: "minio without credentials", env: map[string]string{"BLOB_BACKEND": "minio"}},
		{name: "firestore status without project", env: map[string]string{"STATUS_BACKEND": "firestore"}},
		{name: "bad stamp position", env: map[string]string{"STAMP_POSITION": "top"}},
		{name: "missing api key", env: map[string]string{"INTERNAL_FUNCTION_KEY": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error")
			}
		})
	}
}
