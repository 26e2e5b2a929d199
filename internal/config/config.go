package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/internal/caption"
)

// Store kinds
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config is the complete service configuration
type Config struct {
	Enabled        bool
	Env            string
	Port           string
	AdminJWTSecret string
	WorkspaceRoot  string
	HTTPTimeout    time.Duration

	Storage       StorageConfig
	Speech        SpeechConfig
	Transcription TranscriptionConfig
	Dispatch      DispatchConfig
	Store         StoreConfig
	Workflow      WorkflowConfig
}

// StorageConfig configures the blob storage account the media is uploaded to
type StorageConfig struct {
	AccountName string
	AccountKey  string
	Endpoint    string
	Container   string
	BlobPath    string
	BlockSize   int64
	Concurrency int
}

// SpeechConfig configures the batch transcription API
type SpeechConfig struct {
	Endpoint        string
	SubscriptionKey string
}

// TranscriptionConfig holds the defaults applied to new jobs and caption output
type TranscriptionConfig struct {
	Language            string
	AutoDetectLanguages []string
	TimeToLive          time.Duration
	WorkflowDefinition  string
	MinConfidence       float64
	LineLength          int
	CaptionFormat       string
}

// DispatchConfig configures the periodic dispatcher
type DispatchConfig struct {
	Interval      time.Duration
	RecordTimeout time.Duration
	ShutdownWait  time.Duration
	Retention     time.Duration
}

// StoreConfig selects and configures the job store
type StoreConfig struct {
	Kind          string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

// WorkflowConfig configures the workflow engine client
type WorkflowConfig struct {
	Endpoint      string
	SigningKey    string
	SystemAccount string
}

// LoadDotEnv loads a .env file when present
func LoadDotEnv(logger *zap.Logger, filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}
}

// Load reads the configuration from the environment. Values that cannot be
// parsed are logged and replaced by their default.
func Load(logger *zap.Logger) Config {
	e := env{logger: logger}

	cfg := Config{
		Enabled:        e.bool("TRANSCRIPTION_ENABLED", true),
		Env:            e.string("APP_ENV", "production"),
		Port:           e.string("PORT", "8080"),
		AdminJWTSecret: e.string("ADMIN_JWT_SECRET", ""),
		WorkspaceRoot:  e.string("WORKSPACE_ROOT", "data/workspace"),
		HTTPTimeout:    e.duration("HTTP_TIMEOUT", 60*time.Second),
		Storage: StorageConfig{
			AccountName: e.string("AZURE_STORAGE_ACCOUNT_NAME", ""),
			AccountKey:  e.string("AZURE_ACCOUNT_ACCESS_KEY", ""),
			Endpoint:    e.string("AZURE_STORAGE_ENDPOINT", ""),
			Container:   e.string("AZURE_CONTAINER_NAME", "opencast-transcriptions"),
			BlobPath:    e.string("AZURE_BLOB_PATH", ""),
			BlockSize:   int64(e.int("UPLOAD_BLOCK_SIZE", 100*1024*1024)),
			Concurrency: e.int("UPLOAD_CONCURRENCY", 4),
		},
		Speech: SpeechConfig{
			Endpoint:        e.string("AZURE_SPEECH_SERVICES_ENDPOINT", ""),
			SubscriptionKey: e.string("AZURE_COGNITIVE_SERVICES_SUBSCRIPTION_KEY", ""),
		},
		Transcription: TranscriptionConfig{
			Language:            e.string("TRANSCRIPTION_LANGUAGE", "en-GB"),
			AutoDetectLanguages: e.list("TRANSCRIPTION_AUTO_DETECT_LANGUAGES"),
			TimeToLive:          e.duration("TRANSCRIPTION_TIME_TO_LIVE", 0),
			WorkflowDefinition:  e.string("TRANSCRIPTION_WORKFLOW", "microsoft-azure-attach-transcription"),
			MinConfidence:       e.float("AZURE_SPEECH_RECOGNITION_MIN_CONFIDENCE", 0),
			LineLength:          e.int("SPLIT_TEXT_LINE_LENGTH", 100),
			CaptionFormat:       e.string("CAPTION_FORMAT", "vtt"),
		},
		Dispatch: DispatchConfig{
			Interval:      e.duration("DISPATCH_INTERVAL", 120*time.Second),
			RecordTimeout: e.duration("DISPATCH_RECORD_TIMEOUT", 5*time.Minute),
			ShutdownWait:  e.duration("DISPATCH_SHUTDOWN_WAIT", 60*time.Second),
			Retention:     e.duration("CLEANUP_RETENTION", 7*24*time.Hour),
		},
		Store: StoreConfig{
			Kind:          strings.ToLower(e.string("JOB_STORE", StoreSQLite)),
			SQLitePath:    e.string("SQLITE_PATH", "data/transcriptions.db"),
			MongoURI:      e.string("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDatabase: e.string("MONGODB_DATABASE", "azscribe"),
		},
		Workflow: WorkflowConfig{
			Endpoint:      e.string("WORKFLOW_ENDPOINT", ""),
			SigningKey:    e.string("WORKFLOW_SIGNING_KEY", ""),
			SystemAccount: e.string("SYSTEM_ACCOUNT", "opencast_system_account"),
		},
	}

	if cfg.Workflow.SigningKey == "" {
		cfg.Workflow.SigningKey = cfg.AdminJWTSecret
	}
	return cfg
}

// Validate reports every missing or inconsistent value. Each error wraps
// domain.ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", domain.ErrConfiguration, key))
		}
	}

	require(c.Storage.AccountName, "AZURE_STORAGE_ACCOUNT_NAME")
	require(c.Storage.AccountKey, "AZURE_ACCOUNT_ACCESS_KEY")
	require(c.Speech.Endpoint, "AZURE_SPEECH_SERVICES_ENDPOINT")
	require(c.Speech.SubscriptionKey, "AZURE_COGNITIVE_SERVICES_SUBSCRIPTION_KEY")
	require(c.Workflow.Endpoint, "WORKFLOW_ENDPOINT")
	require(c.Workflow.SigningKey, "WORKFLOW_SIGNING_KEY")
	require(c.AdminJWTSecret, "ADMIN_JWT_SECRET")
	require(c.Transcription.Language, "TRANSCRIPTION_LANGUAGE")

	if c.Storage.AccountKey != "" {
		if _, err := base64.StdEncoding.DecodeString(c.Storage.AccountKey); err != nil {
			errs = append(errs, fmt.Errorf("%w: AZURE_ACCOUNT_ACCESS_KEY is not valid base64", domain.ErrConfiguration))
		}
	}
	endpoint := func(value, key string) {
		if value == "" {
			return
		}
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%w: %s is not a valid URL: %q", domain.ErrConfiguration, key, value))
		}
	}
	endpoint(c.Storage.Endpoint, "AZURE_STORAGE_ENDPOINT")
	endpoint(c.Speech.Endpoint, "AZURE_SPEECH_SERVICES_ENDPOINT")
	endpoint(c.Workflow.Endpoint, "WORKFLOW_ENDPOINT")

	if _, err := caption.ParseFormat(c.Transcription.CaptionFormat); err != nil {
		errs = append(errs, fmt.Errorf("%w: CAPTION_FORMAT: %v", domain.ErrConfiguration, err))
	}

	switch c.Store.Kind {
	case StoreSQLite, StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown JOB_STORE %q", domain.ErrConfiguration, c.Store.Kind))
	}

	if c.Transcription.MinConfidence < 0 || c.Transcription.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("%w: AZURE_SPEECH_RECOGNITION_MIN_CONFIDENCE must be between 0 and 1", domain.ErrConfiguration))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether APP_ENV selects development mode
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

type env struct {
	logger *zap.Logger
}

func (e env) string(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e env) int(key string, def int) int {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.logger.Warn("Invalid integer configuration, using default",
			zap.String("key", key), zap.String("value", v), zap.Int("default", def))
		return def
	}
	return n
}

func (e env) float(key string, def float64) float64 {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.logger.Warn("Invalid number configuration, using default",
			zap.String("key", key), zap.String("value", v), zap.Float64("default", def))
		return def
	}
	return f
}

func (e env) bool(key string, def bool) bool {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warn("Invalid boolean configuration, using default",
			zap.String("key", key), zap.String("value", v), zap.Bool("default", def))
		return def
	}
	return b
}

// duration accepts Go durations ("90s", "2h") and plain seconds ("120")
func (e env) duration(key string, def time.Duration) time.Duration {
	v := e.string(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.logger.Warn("Invalid duration configuration, using default",
			zap.String("key", key), zap.String("value", v), zap.Duration("default", def))
		return def
	}
	return d
}

func (e env) list(key string) []string {
	var out []string
	for _, item := range strings.Split(e.string(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
