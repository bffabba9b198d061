// Package config loads and validates the tool's configuration from
// environment variables (and an optional .env file), the same way
// the teacher library's pkg/config does.
package config

import (
	"strings"

	"github.com/artemis/snap2s3/internal/apperrors"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config binds every option named in the specification's configuration
// table to an environment variable.
type Config struct {
	// Tag is the user-chosen tag key driving the claim protocol.
	Tag string `env:"SNAP2S3_TAG" validate:"required"`

	// MountPoint is the root directory under which per-partition
	// mountpoints are created. Normalized to a trailing slash; must not be
	// empty or "/".
	MountPoint string `env:"SNAP2S3_MOUNT_POINT" validate:"required"`

	// Bucket is the destination S3 bucket.
	Bucket string `env:"SNAP2S3_BUCKET" validate:"required"`

	// VolumeType is the EBS volume type used for temporary volumes.
	VolumeType string `env:"SNAP2S3_VOLUME_TYPE" env-default:"standard"`

	// CompressionLevel is clamped to 1..9.
	CompressionLevel int `env:"SNAP2S3_COMPRESSION_LEVEL" env-default:"1"`

	// UploadStreams is the multipart upload concurrency, >= 1.
	UploadStreams int `env:"SNAP2S3_UPLOAD_STREAMS" env-default:"4"`

	// KeepTempVolumes skips unmount/detach/delete when true.
	KeepTempVolumes bool `env:"SNAP2S3_KEEP_TEMP_VOLUMES" env-default:"false"`

	// DD forces raw-image (whole volume) mode instead of per-partition tar.
	DD bool `env:"SNAP2S3_DD" env-default:"false"`

	// Validate runs an inline hash comparison after a successful migration.
	Validate bool `env:"SNAP2S3_VALIDATE" env-default:"false"`

	// SSE is the server-side encryption algorithm, e.g. "AES256" or
	// "aws:kms". Empty means no SSE is requested.
	SSE string `env:"SNAP2S3_SSE"`

	// SSEKMSKeyID is the KMS key id, only valid when SSE == "aws:kms".
	SSEKMSKeyID string `env:"SNAP2S3_SSE_KMS_KEY_ID"`

	// SkipPartitions lists substrings; any partition whose name contains
	// one of them is skipped. Empty by default. This replaces the
	// hard-coded "128" substring skip flagged in the design notes with an
	// explicit, configurable list.
	SkipPartitions []string `env:"SNAP2S3_SKIP_PARTITIONS" env-separator:","`

	// AllowPartitions, if non-empty, restricts processing to only
	// partitions whose name appears in this list.
	AllowPartitions []string `env:"SNAP2S3_ALLOW_PARTITIONS" env-separator:","`

	// AWSAccessKeyID/AWSSecretAccessKey override the default credential
	// chain with a static pair when both are set, e.g. to use a test
	// account's keys instead of the instance role. Leave both empty to use
	// the default chain (IMDS role credentials). The instance identity is
	// read from the metadata service either way, so the tool still runs
	// on an instance.
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	obslogConfig `env-prefix:""`
}

// obslogConfig embeds the logging knobs under the same env namespace as the
// rest of the tool's configuration (LOG_LEVEL, LOG_FORMAT, ...).
type obslogConfig struct {
	LogLevel        string  `env:"LOG_LEVEL" env-default:"INFO"`
	LogFormat       string  `env:"LOG_FORMAT" env-default:"TEXT"`
	LogSamplingRate float64 `env:"LOG_SAMPLING_RATE" env-default:"1.0"`
	LogAsync        bool    `env:"LOG_ASYNC" env-default:"false"`
	LogRedact       bool    `env:"LOG_REDACT" env-default:"true"`
}

// Load reads configuration from .env (if present) or the environment,
// normalizes derived fields, and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(".env", &cfg); err != nil {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, apperrors.Configuration("failed to read configuration", err)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, apperrors.Configuration("config validation failed", err)
	}

	if err := normalizeAndValidate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizeAndValidate(cfg *Config) error {
	if cfg.MountPoint == "" || cfg.MountPoint == "/" {
		return apperrors.Configuration("mount-point must not be empty or \"/\"", nil)
	}
	if !strings.HasSuffix(cfg.MountPoint, "/") {
		cfg.MountPoint += "/"
	}

	if cfg.VolumeType == "" {
		cfg.VolumeType = "standard"
	}

	if cfg.CompressionLevel < 1 {
		cfg.CompressionLevel = 1
	} else if cfg.CompressionLevel > 9 {
		cfg.CompressionLevel = 9
	}

	if cfg.UploadStreams < 1 {
		cfg.UploadStreams = 1
	}

	if cfg.SSEKMSKeyID != "" && cfg.SSE != "aws:kms" {
		return apperrors.Configuration("sse-kms-key-id requires sse=\"aws:kms\"", nil)
	}

	return nil
}

// NonceTagKey returns the tag key used to store the claim nonce, derived
// from the configured claim tag key.
func (c *Config) NonceTagKey() string {
	return c.Tag + "-id"
}

// LogConfig extracts the logging-related subset of Config.
func (c *Config) LogConfig() (level, format string, samplingRate float64, async, redact bool) {
	return c.LogLevel, c.LogFormat, c.LogSamplingRate, c.LogAsync, c.LogRedact
}

// SkipPartition reports whether a partition name should be skipped
// according to the allow/deny lists.
func (c *Config) SkipPartition(name string) bool {
	if len(c.AllowPartitions) > 0 {
		allowed := false
		for _, a := range c.AllowPartitions {
			if a == name {
				allowed = true
				break
			}
		}
		if !allowed {
			return true
		}
	}
	for _, s := range c.SkipPartitions {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}
