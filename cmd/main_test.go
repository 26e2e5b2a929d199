package main

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/internal/config"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Enabled:        true,
		AdminJWTSecret: "admin-secret",
		WorkspaceRoot:  t.TempDir(),
		Storage: config.StorageConfig{
			AccountName: "acct",
			AccountKey:  "a2V5",
			Container:   "transcriptions",
		},
		Speech: config.SpeechConfig{
			Endpoint:        "https://speech.example.com",
			SubscriptionKey: "key",
		},
		Transcription: config.TranscriptionConfig{
			Language:      "en-GB",
			CaptionFormat: "vtt",
		},
		Store: config.StoreConfig{Kind: config.StoreMemory},
		Workflow: config.WorkflowConfig{
			Endpoint:      "https://engine.example.com",
			SigningKey:    "signing-secret",
			SystemAccount: "system",
		},
	}
}

func TestInitTranscriptionDisablesOnRejectedSettings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"disabled", func(c *config.Config) { c.Enabled = false }},
		{"missing speech key", func(c *config.Config) { c.Speech.SubscriptionKey = "" }},
		{"account key not base64", func(c *config.Config) { c.Storage.AccountKey = "not*base64!" }},
		{"speech endpoint unparsable", func(c *config.Config) { c.Speech.Endpoint = "speech.example.com" }},
		{"unknown caption format", func(c *config.Config) { c.Transcription.CaptionFormat = "ttml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.modify(&cfg)

			app, err := initTranscription(context.Background(), cfg, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("Expected the service to be disabled, got error %v", err)
			}
			if app.routes.Service != nil || len(app.shutdown) != 0 {
				t.Errorf("Expected only the health check, got %+v", app.routes)
			}
		})
	}
}

func TestBuildRejectsCaptionFormatAsConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcription.CaptionFormat = "ttml"

	_, err := build(context.Background(), cfg, zaptest.NewLogger(t))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration, got %v", err)
	}
}

func TestInitTranscriptionBuildsService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initTranscription(ctx, testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to initialize transcription service: %v", err)
	}
	if app.routes.Service == nil || app.routes.Dispatcher == nil || app.routes.Hub == nil || app.routes.Issuer == nil {
		t.Fatalf("Expected every route dependency, got %+v", app.routes)
	}

	for _, stop := range app.shutdown {
		if err := stop(ctx); err != nil {
			t.Errorf("Failed to shut down: %v", err)
		}
	}
}
