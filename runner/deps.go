package runner

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/checkpoint"
	"github.com/gosom/gmaps-extractor/diagnostics"
	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/extractor"
	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/memory"
	"github.com/gosom/gmaps-extractor/metrics"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/postgres"
	"github.com/gosom/gmaps-extractor/quota"
	"github.com/gosom/gmaps-extractor/redis/config"
	"github.com/gosom/gmaps-extractor/resolver"
	"github.com/gosom/gmaps-extractor/s3uploader"
	"github.com/gosom/gmaps-extractor/sqlite"
)

const (
	jobsDBName        = "jobs.db"
	emailFetchTimeout = 15 * time.Second
)

// Deps are the components shared by the run modes. Close releases them in
// reverse order of creation.
type Deps struct {
	Cfg         *Config
	Log         *zap.Logger
	Repo        models.JobRepository
	Quota       models.UsageLimiter
	Checkpoints *checkpoint.Store
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics

	redisCfg *config.RedisConfig
	redis    goredis.UniversalClient
	closers  []func() error
}

// StoreKind selects the job store of a run mode.
type StoreKind int

const (
	// StoreDefault is postgres when a dsn is set and sqlite otherwise.
	StoreDefault StoreKind = iota
	// StoreMemory keeps jobs for the lifetime of the process.
	StoreMemory
)

func NewDeps(ctx context.Context, cfg *Config, log *zap.Logger, store StoreKind) (d *Deps, err error) {
	d = &Deps{Cfg: cfg, Log: log}

	defer func() {
		if err != nil {
			err = multierr.Append(err, d.Close())
			d = nil
		}
	}()

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(d.Registry)

	if err := d.openStore(ctx, store); err != nil {
		return nil, err
	}

	if err := d.openCheckpoints(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Deps) openStore(ctx context.Context, store StoreKind) error {
	switch {
	case store == StoreMemory:
		d.Repo = memory.New()
		d.Quota = d.memoryQuota()
	case d.Cfg.Dsn != "":
		db, err := postgres.Open(ctx, d.Cfg.Dsn)
		if err != nil {
			return err
		}

		d.closers = append(d.closers, db.Close)

		if err := postgres.Migrate(ctx, db, d.Log); err != nil {
			return err
		}

		repo, err := postgres.NewRepository(db)
		if err != nil {
			return err
		}

		d.Repo = repo
		d.Quota = d.postgresQuota(db)
	default:
		if err := os.MkdirAll(d.Cfg.DataFolder, 0o755); err != nil {
			return fmt.Errorf("failed to create data folder: %w", err)
		}

		repo, err := sqlite.New(filepath.Join(d.Cfg.DataFolder, jobsDBName))
		if err != nil {
			return err
		}

		if c, ok := repo.(io.Closer); ok {
			d.closers = append(d.closers, c.Close)
		}

		d.Repo = repo
		d.Quota = d.memoryQuota()
	}

	return nil
}

func (d *Deps) memoryQuota() models.UsageLimiter {
	if d.Cfg.MonthlyQuota == 0 {
		return quota.Unlimited{}
	}

	return quota.NewMemory(d.Cfg.MonthlyQuota)
}

func (d *Deps) postgresQuota(db *sql.DB) models.UsageLimiter {
	if d.Cfg.MonthlyQuota == 0 {
		return quota.Unlimited{}
	}

	return postgres.NewQuotaService(db, d.Cfg.MonthlyQuota, d.Log.Named("quota"))
}

func (d *Deps) openCheckpoints() error {
	cfg := d.Cfg.Env.Checkpoint

	if !d.Cfg.Env.Job.CheckpointsEnabled {
		d.Checkpoints = checkpoint.Disabled()
		return nil
	}

	var backend checkpoint.Backend

	switch cfg.Backend {
	case "redis":
		client, err := d.Redis()
		if err != nil {
			return err
		}

		backend = checkpoint.NewRedisBackend(client, cfg.RedisPrefix, cfg.RedisTTL)
	case "file", "":
		fb, err := checkpoint.NewFileBackend(d.path(cfg.Dir))
		if err != nil {
			return err
		}

		backend = fb
	default:
		return fmt.Errorf("%w: unknown checkpoint backend %q", ErrInvalidConfig, cfg.Backend)
	}

	d.Checkpoints = checkpoint.NewStore(backend, checkpoint.WithLogger(d.Log.Named("checkpoint")))

	return nil
}

// RedisConfig reads the redis settings once.
func (d *Deps) RedisConfig() (*config.RedisConfig, error) {
	if d.redisCfg != nil {
		return d.redisCfg, nil
	}

	cfg, err := config.NewRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}

	d.redisCfg = cfg

	return cfg, nil
}

// Redis returns the shared pub/sub and key value client.
func (d *Deps) Redis() (goredis.UniversalClient, error) {
	if d.redis != nil {
		return d.redis, nil
	}

	cfg, err := d.RedisConfig()
	if err != nil {
		return nil, err
	}

	d.redis = cfg.NewUniversalClient()
	d.closers = append(d.closers, d.redis.Close)

	return d.redis, nil
}

// NewPipeline starts a browser and builds the extraction pipeline on it.
func (d *Deps) NewPipeline(ctx context.Context) (*gmaps.Pipeline, error) {
	env := d.Cfg.Env

	browser, err := gmaps.NewPlaywrightBrowser(env.Browser)
	if err != nil {
		return nil, err
	}

	d.closers = append(d.closers, browser.Close)

	opts := []gmaps.Option{
		gmaps.WithLogger(d.Log.Named("pipeline")),
		gmaps.WithResolver(resolver.New(env.Resolver, d.Log.Named("resolver"))),
		gmaps.WithItemObserver(d.Metrics.ObserveItem),
		gmaps.WithRetryObserver(d.Metrics.Retry),
		gmaps.WithEmailFinder(gmaps.NewWebsiteEmailFinder(emailFetchTimeout, gmaps.DefaultEmailFilter)),
	}

	if env.Diagnostics.Enabled {
		sinkOpts := []diagnostics.FileSinkOption{diagnostics.WithLogger(d.Log.Named("diagnostics"))}

		if env.Diagnostics.Bucket != "" {
			up, err := s3uploader.New(ctx, env.S3)
			if err != nil {
				return nil, err
			}

			sinkOpts = append(sinkOpts, diagnostics.WithUploader(up, env.Diagnostics.Bucket))
		}

		opts = append(opts, gmaps.WithDiagnostics(diagnostics.NewFileSink(d.path(env.Diagnostics.Dir), sinkOpts...)))
	}

	return gmaps.New(browser, env.Pipeline, opts...), nil
}

// NewOrchestrator builds the job orchestrator over the shared components.
func (d *Deps) NewOrchestrator(pipeline extractor.Pipeline, opts ...extractor.Option) *extractor.Orchestrator {
	base := []extractor.Option{
		extractor.WithLogger(d.Log.Named("extractor")),
		extractor.WithQuota(d.Quota),
		extractor.WithCheckpoints(d.Checkpoints),
		extractor.WithSerializer(exporter.New()),
		extractor.WithMetrics(d.Metrics),
		extractor.WithTelemetry(Telemetry()),
	}

	return extractor.New(d.Cfg.Env.Job, d.Repo, pipeline, append(base, opts...)...)
}

func (d *Deps) path(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(d.Cfg.DataFolder, dir)
}

func (d *Deps) Close() error {
	var err error

	for i := len(d.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, d.closers[i]())
	}

	d.closers = nil

	return err
}
