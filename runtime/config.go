package runtime

import (
	"fmt"
	"time"
	_ "time/tzdata" // our timezone must resolve even where the system has no zoneinfo

	"github.com/nyaruka/ezconf"
	validator "gopkg.in/go-playground/validator.v9"
)

// sink types
const (
	SinkS3   = "s3"
	SinkFile = "file"
)

// Config is our top level configuration object
type Config struct {
	Redis           string `validate:"omitempty,url,startswith=redis:" help:"URL describing how to connect to the Redis dedup ledger, empty to use an in-memory ledger"`
	LedgerKeyPrefix string `help:"prefix added to ledger keys, can be empty if the ledger has a Redis database to itself"`
	LedgerTTL       int    `validate:"min=1" help:"how long in seconds an exported event is remembered for deduplication"`
	SpoolDir        string `help:"local directory where ledger marks that couldn't be written are spooled, empty to disable"`

	Sink     string `validate:"required,oneof=s3 file" help:"where files are exported to, one of s3 or file"`
	FileRoot string `help:"the local directory files are exported to when sink is file"`

	AWSAccessKeyID     string `help:"access key ID to use for AWS services, empty to use the default credentials chain"`
	AWSSecretAccessKey string `help:"secret access key to use for AWS services"`
	AWSRegion          string `validate:"required" help:"region to use for AWS services"`
	S3Endpoint         string `validate:"omitempty,url" help:"S3 endpoint to use, empty for the AWS default"`
	S3Bucket           string `help:"S3 bucket files are exported to"`
	S3Prefix           string `help:"prefix added to exported file keys"`
	S3Minio            bool   `help:"whether S3 is actually a Minio instance"`

	Timezone  string `validate:"required" help:"the timezone response timestamps are computed in"`
	Address   string `help:"the network interface address the dev server will bind to"`
	Port      int    `help:"the port the dev server will listen on"`
	LogLevel  string `help:"the logging level to use"`
	SentryDSN string `help:"the DSN used for logging errors to Sentry"`
	Version   string `help:"the version of this deployment"`
}

// NewDefaultConfig returns a new default configuration object
func NewDefaultConfig() *Config {
	return &Config{
		Redis:           "redis://localhost:6379/15",
		LedgerKeyPrefix: "",
		LedgerTTL:       60 * 60 * 24 * 7,
		SpoolDir:        "/tmp/eventsink/spool",

		Sink:     SinkS3,
		FileRoot: "/tmp/eventsink/export",

		AWSRegion: "eu-central-1",
		S3Bucket:  "eventsink-export",
		S3Prefix:  "",

		Timezone: "Europe/Berlin",
		Address:  "",
		Port:     8080,
		LogLevel: "info",
		Version:  "Dev",
	}
}

// LoadConfig loads our configuration from the passed in filename, environment variables and flags
func LoadConfig(filename string) *Config {
	config := NewDefaultConfig()
	loader := ezconf.NewLoader(config, "eventsink", "Eventsink - exports deduplicated events to partitioned parquet files", []string{filename})
	loader.MustLoad()
	return config
}

var validate = validator.New()

// Validate validates the config
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Sink == SinkS3 && c.S3Bucket == "" {
		return fmt.Errorf("S3Bucket is required when sink is %s", SinkS3)
	}
	if c.Sink == SinkFile && c.FileRoot == "" {
		return fmt.Errorf("FileRoot is required when sink is %s", SinkFile)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid Timezone '%s': %w", c.Timezone, err)
	}
	return nil
}

// Location returns the location of our configured timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// TTL returns the ledger TTL as a duration
func (c *Config) TTL() time.Duration {
	return time.Duration(c.LedgerTTL) * time.Second
}
