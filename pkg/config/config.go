// Package config loads the run configuration of the daedalus process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environment variables read by Load.
const (
	EnvDefaultThreads = "DAEDALUS_DEFAULT_THREADS"
	EnvDefaultService = "DAEDALUS_DEFAULT_SERVICE"
	EnvExit           = "DAEDALUS_EXIT"
	EnvLogLevel       = "DAEDALUS_LOG_LEVEL"
	EnvLogFormat      = "DAEDALUS_LOG_FORMAT"
	EnvOTLPEndpoint   = "DAEDALUS_OTLP_ENDPOINT"
	EnvNatsURL        = "DAEDALUS_NATS_URL"
	EnvNatsSubject    = "DAEDALUS_NATS_SUBJECT"
	EnvSentryDSN      = "DAEDALUS_SENTRY_DSN"
	EnvMetrics        = "DAEDALUS_METRICS"
	EnvMetricsAddr    = "DAEDALUS_METRICS_ADDR"
	EnvFileService    = "DAEDALUS_FILE_SERVICE"
	EnvBlobConnection = "DAEDALUS_BLOB_CONNECTION_STRING"
	EnvBlobContainer  = "DAEDALUS_BLOB_CONTAINER"
)

// RunConfig is passed explicitly to everything that needs it.
type RunConfig struct {
	DefaultThreads int    `validate:"min=1,max=10000"`
	DefaultService string `validate:"required"`
	// Exit initializes and validates jobs without running them.
	Exit bool

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	OTLPEndpoint string
	NatsURL      string `validate:"omitempty,url"`
	NatsSubject  string `validate:"required_with=NatsURL"`
	SentryDSN    string `validate:"omitempty,url"`

	Metrics     bool
	MetricsAddr string `validate:"required_if=Metrics true"`

	FileService    string `validate:"oneof=local blob"`
	BlobConnection string `validate:"required_if=FileService blob"`
	BlobContainer  string `validate:"required_if=FileService blob"`
}

var validate = validator.New()

// Default returns the configuration used when no environment is set.
func Default() *RunConfig {
	return &RunConfig{
		DefaultThreads: 25,
		DefaultService: "main",
		LogLevel:       "info",
		LogFormat:      "console",
		NatsSubject:    "daedalus.results",
		MetricsAddr:    ":9090",
		FileService:    "local",
	}
}

// Load reads the configuration with priority env vars > defaults and
// validates the result.
func Load() (*RunConfig, error) {
	c := Default()

	c.DefaultThreads = getEnvInt(EnvDefaultThreads, c.DefaultThreads)
	c.DefaultService = getEnv(EnvDefaultService, c.DefaultService)
	c.Exit = getEnvBool(EnvExit, c.Exit)
	c.LogLevel = strings.ToLower(getEnv(EnvLogLevel, c.LogLevel))
	c.LogFormat = strings.ToLower(getEnv(EnvLogFormat, c.LogFormat))
	c.OTLPEndpoint = getEnv(EnvOTLPEndpoint, c.OTLPEndpoint)
	c.NatsURL = getEnv(EnvNatsURL, c.NatsURL)
	c.NatsSubject = getEnv(EnvNatsSubject, c.NatsSubject)
	c.SentryDSN = getEnv(EnvSentryDSN, c.SentryDSN)
	c.Metrics = getEnvBool(EnvMetrics, c.Metrics)
	c.MetricsAddr = getEnv(EnvMetricsAddr, c.MetricsAddr)
	c.FileService = strings.ToLower(getEnv(EnvFileService, c.FileService))
	c.BlobConnection = getEnv(EnvBlobConnection, c.BlobConnection)
	c.BlobContainer = getEnv(EnvBlobContainer, c.BlobContainer)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the struct tags.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid run configuration: %w", err)
	}
	return nil
}

func (c *RunConfig) String() string {
	return fmt.Sprintf(
		"RunConfig{DefaultThreads: %d, DefaultService: %s, Exit: %t, LogLevel: %s, Tracing: %t, Nats: %t, Sentry: %t, Metrics: %t, Files: %s}",
		c.DefaultThreads,
		c.DefaultService,
		c.Exit,
		c.LogLevel,
		c.OTLPEndpoint != "",
		c.NatsURL != "",
		c.SentryDSN != "",
		c.Metrics,
		c.FileService,
	)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
