package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/azscribe/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TRANSCRIPTION_LANGUAGE", "AZURE_CONTAINER_NAME", "DISPATCH_INTERVAL", "CLEANUP_RETENTION", "JOB_STORE", "SPLIT_TEXT_LINE_LENGTH"} {
		t.Setenv(key, "")
	}

	cfg := Load(zaptest.NewLogger(t))

	if !cfg.Enabled {
		t.Error("Expected service to be enabled by default")
	}
	if cfg.Transcription.Language != "en-GB" {
		t.Errorf("Expected default language en-GB, got %s", cfg.Transcription.Language)
	}
	if cfg.Storage.Container != "opencast-transcriptions" {
		t.Errorf("Unexpected default container %s", cfg.Storage.Container)
	}
	if cfg.Storage.BlockSize != 100*1024*1024 {
		t.Errorf("Unexpected default block size %d", cfg.Storage.BlockSize)
	}
	if cfg.Dispatch.Interval != 120*time.Second || cfg.Dispatch.Retention != 7*24*time.Hour {
		t.Errorf("Unexpected dispatch defaults %+v", cfg.Dispatch)
	}
	if cfg.Store.Kind != StoreSQLite {
		t.Errorf("Expected sqlite store by default, got %s", cfg.Store.Kind)
	}
	if cfg.Transcription.LineLength != 100 || cfg.Transcription.MinConfidence != 0 {
		t.Errorf("Unexpected caption defaults %+v", cfg.Transcription)
	}
}

func TestLoadValues(t *testing.T) {
	t.Setenv("TRANSCRIPTION_ENABLED", "false")
	t.Setenv("TRANSCRIPTION_AUTO_DETECT_LANGUAGES", "de-CH, fr-CH,,it-CH")
	t.Setenv("DISPATCH_INTERVAL", "30")
	t.Setenv("TRANSCRIPTION_TIME_TO_LIVE", "48h")
	t.Setenv("AZURE_SPEECH_RECOGNITION_MIN_CONFIDENCE", "0.4")
	t.Setenv("ADMIN_JWT_SECRET", "admin")
	t.Setenv("WORKFLOW_SIGNING_KEY", "")
	t.Setenv("JOB_STORE", "Mongo")

	cfg := Load(zaptest.NewLogger(t))

	if cfg.Enabled {
		t.Error("Expected service to be disabled")
	}
	if len(cfg.Transcription.AutoDetectLanguages) != 3 || cfg.Transcription.AutoDetectLanguages[1] != "fr-CH" {
		t.Errorf("Unexpected candidate locales %v", cfg.Transcription.AutoDetectLanguages)
	}
	if cfg.Dispatch.Interval != 30*time.Second {
		t.Errorf("Expected plain seconds to be accepted, got %v", cfg.Dispatch.Interval)
	}
	if cfg.Transcription.TimeToLive != 48*time.Hour {
		t.Errorf("Unexpected time to live %v", cfg.Transcription.TimeToLive)
	}
	if cfg.Transcription.MinConfidence != 0.4 {
		t.Errorf("Unexpected min confidence %v", cfg.Transcription.MinConfidence)
	}
	if cfg.Workflow.SigningKey != "admin" {
		t.Errorf("Expected signing key to fall back to admin secret, got %q", cfg.Workflow.SigningKey)
	}
	if cfg.Store.Kind != StoreMongo {
		t.Errorf("Expected store kind to be normalized, got %s", cfg.Store.Kind)
	}
}

func TestLoadInvalidFallsBack(t *testing.T) {
	t.Setenv("SPLIT_TEXT_LINE_LENGTH", "wide")
	t.Setenv("UPLOAD_CONCURRENCY", "-2")
	t.Setenv("HTTP_TIMEOUT", "soon")

	cfg := Load(zaptest.NewLogger(t))

	if cfg.Transcription.LineLength != 100 || cfg.Storage.Concurrency != 4 || cfg.HTTPTimeout != 60*time.Second {
		t.Errorf("Expected defaults for invalid values, got %d %d %v",
			cfg.Transcription.LineLength, cfg.Storage.Concurrency, cfg.HTTPTimeout)
	}
}

func validConfig() Config {
	return Config{
		AdminJWTSecret: "admin",
		Storage:        StorageConfig{AccountName: "acct", AccountKey: "a2V5"},
		Speech:         SpeechConfig{Endpoint: "https://speech", SubscriptionKey: "k"},
		Transcription:  TranscriptionConfig{Language: "en-GB", CaptionFormat: "vtt"},
		Store:          StoreConfig{Kind: StoreMemory},
		Workflow:       WorkflowConfig{Endpoint: "https://engine", SigningKey: "s"},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid configuration, got %v", err)
	}

	cfg.Storage.AccountKey = ""
	cfg.Store.Kind = "postgres"
	err := cfg.Validate()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration, got %v", err)
	}
	for _, want := range []string{"AZURE_ACCOUNT_ACCESS_KEY", "postgres"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}

func TestValidateRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"account key not base64", func(c *Config) { c.Storage.AccountKey = "not*base64!" }, "AZURE_ACCOUNT_ACCESS_KEY"},
		{"speech endpoint without scheme", func(c *Config) { c.Speech.Endpoint = "speech.example.com" }, "AZURE_SPEECH_SERVICES_ENDPOINT"},
		{"speech endpoint unparsable", func(c *Config) { c.Speech.Endpoint = "https://[::1" }, "AZURE_SPEECH_SERVICES_ENDPOINT"},
		{"storage endpoint unparsable", func(c *Config) { c.Storage.Endpoint = "://blob" }, "AZURE_STORAGE_ENDPOINT"},
		{"workflow endpoint without host", func(c *Config) { c.Workflow.Endpoint = "http://" }, "WORKFLOW_ENDPOINT"},
		{"unknown caption format", func(c *Config) { c.Transcription.CaptionFormat = "ttml" }, "CAPTION_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("Expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Expected %q in %v", tt.key, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AZSCRIBE_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("AZSCRIBE_TEST_KEY", "")
	os.Unsetenv("AZSCRIBE_TEST_KEY")

	LoadDotEnv(zaptest.NewLogger(t), path)
	if got := os.Getenv("AZSCRIBE_TEST_KEY"); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}

	// a missing file is not an error
	LoadDotEnv(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "missing.env"))
}
