package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "product-importer/pkg/aws"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Queue backends
const (
	QueueRedis = "redis"
	QueueSQS   = "sqs"
)

// Progress store backends
const (
	ProgressRedis    = "redis"
	ProgressDynamoDB = "dynamodb"
)

// MaxPollInterval bounds how stale an observer's view of a job may be.
const MaxPollInterval = time.Second

// Config holds all environment driven settings for the importer.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string
	StorageDir  string

	QueueBackend  string
	QueueKey      string
	SQSQueueURL   string
	ImportWorkers int

	ProgressBackend string
	ProgressTable   string
	PollInterval    time.Duration
	WaitTimeout     time.Duration

	UploadBucket   string
	EventsTopicARN string

	AllowedOrigins []string

	CloudWatchEnabled bool
	UseSecrets        bool
}

// Load reads .env (if present) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          getEnv("REDIS_URL", "redis://redis:6379/0"),
		StorageDir:        getEnv("STORAGE_DIR", "./data/uploads"),
		QueueBackend:      getEnv("IMPORT_QUEUE_BACKEND", QueueRedis),
		QueueKey:          getEnv("IMPORT_QUEUE_KEY", "import:queue"),
		SQSQueueURL:       os.Getenv("SQS_IMPORT_QUEUE_URL"),
		ProgressBackend:   getEnv("PROGRESS_BACKEND", ProgressRedis),
		ProgressTable:     getEnv("PROGRESS_TABLE", "import_progress"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		UploadBucket:      os.Getenv("UPLOAD_BUCKET"),
		EventsTopicARN:    os.Getenv("IMPORT_EVENTS_TOPIC_ARN"),
		CloudWatchEnabled: os.Getenv("CLOUDWATCH_ENABLED") == "true",
		UseSecrets:        os.Getenv("AWS_USE_SECRETS") == "true",
	}

	var err error
	if cfg.ImportWorkers, err = getInt("IMPORT_WORKERS", 1); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("PROGRESS_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = getDuration("PROGRESS_WAIT_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}

	if cfg.UseSecrets {
		loadSecrets(context.Background(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL or POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB is required")
	}
	switch c.QueueBackend {
	case QueueRedis:
	case QueueSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_IMPORT_QUEUE_URL is required when IMPORT_QUEUE_BACKEND=sqs")
		}
	default:
		return fmt.Errorf("unknown IMPORT_QUEUE_BACKEND %q", c.QueueBackend)
	}
	switch c.ProgressBackend {
	case ProgressRedis, ProgressDynamoDB:
	default:
		return fmt.Errorf("unknown PROGRESS_BACKEND %q", c.ProgressBackend)
	}
	if c.ImportWorkers < 0 {
		return fmt.Errorf("IMPORT_WORKERS must not be negative")
	}
	if c.PollInterval <= 0 || c.PollInterval > MaxPollInterval {
		return fmt.Errorf("PROGRESS_POLL_INTERVAL must be in (0, %s]", MaxPollInterval)
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("PROGRESS_WAIT_TIMEOUT must be positive")
	}
	return nil
}

// postgresURLFromEnv builds a DSN from the POSTGRES_* variables the other
// services use. It returns "" when the required parts are missing.
func postgresURLFromEnv() string {
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbName := os.Getenv("POSTGRES_DB")
	if user == "" || password == "" || dbName == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   getEnv("POSTGRES_HOST", "localhost") + ":" + getEnv("POSTGRES_PORT", "5432"),
		Path:   "/" + dbName,
	}
	q := u.Query()
	q.Set("sslmode", getEnv("POSTGRES_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

// secretPrefix namespaces this service's entries in Secrets Manager.
const secretPrefix = "product-importer"

// loadSecrets overrides connection strings from Secrets Manager, keeping the
// environment values on any failure.
func loadSecrets(ctx context.Context, cfg *Config) {
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		zap.L().Warn("secrets disabled: aws config unavailable", zap.Error(err))
		return
	}
	applySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg, secretPrefix), cfg)
}

type secretLookup interface {
	Lookup(ctx context.Context, key string) (string, error)
}

func applySecrets(ctx context.Context, sm secretLookup, cfg *Config) {
	targets := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_URL", &cfg.RedisURL},
	}
	for _, t := range targets {
		v, err := sm.Lookup(ctx, t.key)
		switch {
		case err == nil:
			*t.dst = v
		case errors.Is(err, aws_pkg.ErrSecretNotFound):
			zap.L().Debug("secret not set, using environment", zap.String("key", t.key))
		default:
			zap.L().Warn("secret not loaded", zap.String("key", t.key), zap.Error(err))
		}
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(item), "/")); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.QueueBackend == QueueSQS ||
		c.ProgressBackend == ProgressDynamoDB ||
		c.UploadBucket != "" ||
		c.EventsTopicARN != "" ||
		c.CloudWatchEnabled ||
		os.Getenv("AWS_ENDPOINT") != "" ||
		os.Getenv("AWS_REGION") != ""
}
