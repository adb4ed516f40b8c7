package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/nyaruka/eventsink/ledger"
	"github.com/nyaruka/eventsink/metrics"
	"github.com/nyaruka/eventsink/sink"
	"github.com/prometheus/client_golang/prometheus"
)

// Runtime holds the clients shared by all invocations of a process. It is created once and reused for
// as long as the process stays warm.
type Runtime struct {
	Config   *Config
	RP       *redis.Pool
	Ledger   ledger.Ledger
	Spool    *ledger.Spool
	Sink     sink.Sink
	Location *time.Location
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// NewRuntime creates a new runtime from the passed in config
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	loc, _ := cfg.Location()
	rt := &Runtime{Config: cfg, Location: loc, Registry: prometheus.NewRegistry()}
	rt.Metrics = metrics.New(rt.Registry)

	log := slog.With("comp", "runtime")

	if cfg.Redis != "" {
		var err error
		rt.RP, err = ledger.NewPool(cfg.Redis, 4)
		if err != nil {
			return nil, err
		}
		rt.Ledger = ledger.NewRedis(rt.RP, cfg.LedgerKeyPrefix, cfg.TTL())
	} else {
		log.Warn("no Redis configured, using in-memory ledger")
		rt.Ledger = ledger.NewMemory(cfg.TTL())
	}

	if cfg.SpoolDir != "" {
		rt.Spool = ledger.NewSpool(cfg.SpoolDir)
	}

	switch cfg.Sink {
	case SinkS3:
		client, err := sink.NewS3Client(ctx, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSRegion, cfg.S3Endpoint, cfg.S3Minio)
		if err != nil {
			return nil, fmt.Errorf("error creating S3 client: %w", err)
		}
		rt.Sink = sink.NewS3(client, cfg.S3Bucket, cfg.S3Prefix)
	case SinkFile:
		rt.Sink = sink.NewLocal(cfg.FileRoot)
	}

	return rt, nil
}

// Start tests our connections, logging rather than failing on problems since they may be transient
func (rt *Runtime) Start(ctx context.Context) {
	log := slog.With("comp", "runtime", "state", "starting")

	if err := rt.Ledger.Check(ctx); err != nil {
		log.Error("ledger not reachable", "error", err)
	} else {
		log.Info("ledger ok")
	}

	if err := rt.Sink.Check(ctx); err != nil {
		log.Error("sink not reachable", "error", err)
	} else {
		log.Info("sink ok")
	}

	if rt.Spool != nil {
		if err := rt.Spool.EnsureDir(); err != nil {
			log.Error("spool directory not writable, disabling spool", "error", err)
			rt.Spool = nil
		} else {
			log.Info("spool directory ok")
		}
	}
}

// Stop releases our connections
func (rt *Runtime) Stop() {
	if rt.RP != nil {
		rt.RP.Close()
	}
}
