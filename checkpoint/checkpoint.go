// Package checkpoint persists resumable progress snapshots of running jobs.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/models"
)

var ErrNotFound = errors.New("checkpoint not found")

// Backend stores serialized checkpoints keyed by job id.
type Backend interface {
	Put(ctx context.Context, jobID string, data []byte) error
	Get(ctx context.Context, jobID string) ([]byte, error)
	Remove(ctx context.Context, jobID string) error
}

type Config struct {
	Backend     string        `envconfig:"BACKEND" default:"file"`
	Dir         string        `envconfig:"DIR" default:"checkpoints"`
	RedisPrefix string        `envconfig:"REDIS_PREFIX" default:"checkpoint:"`
	RedisTTL    time.Duration `envconfig:"REDIS_TTL" default:"168h"`
}

type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithEnabled(enabled bool) Option {
	return func(s *Store) {
		s.enabled = enabled
	}
}

// Store wraps a Backend. Save never fails the caller: errors are logged and
// reported through the boolean result only. When the store is disabled
// every operation is a no-op.
type Store struct {
	backend Backend
	enabled bool
	log     *zap.Logger
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		enabled: backend != nil,
		log:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		s.enabled = false
	}

	return s
}

// Disabled returns a store that ignores every call.
func Disabled() *Store {
	return NewStore(nil)
}

func (s *Store) Enabled() bool {
	return s.enabled
}

// Save persists cp and reports whether it was written.
func (s *Store) Save(ctx context.Context, cp *models.Checkpoint) bool {
	if !s.enabled || cp == nil {
		return false
	}

	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		s.log.Warn("failed to encode checkpoint", zap.String("job_id", cp.JobID), zap.Error(err))
		return false
	}

	if err := s.backend.Put(ctx, cp.JobID, data); err != nil {
		s.log.Warn("failed to save checkpoint", zap.String("job_id", cp.JobID), zap.Error(err))
		return false
	}

	s.log.Debug("checkpoint saved",
		zap.String("job_id", cp.JobID),
		zap.Int("last_processed_index", cp.LastProcessedIndex),
		zap.Int("records", len(cp.Records)),
	)

	return true
}

// Load returns the checkpoint of a job, or nil when there is none.
func (s *Store) Load(ctx context.Context, jobID string) (*models.Checkpoint, error) {
	if !s.enabled {
		return nil, nil
	}

	data, err := s.backend.Get(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		s.log.Warn("failed to load checkpoint", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.Warn("corrupt checkpoint", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	return &cp, nil
}

// Delete removes the checkpoint of a job. Deleting a missing checkpoint is
// not an error.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if !s.enabled {
		return nil
	}

	if err := s.backend.Remove(ctx, jobID); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("failed to delete checkpoint", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	return nil
}

func (s *Store) Exists(ctx context.Context, jobID string) bool {
	if !s.enabled {
		return false
	}

	_, err := s.backend.Get(ctx, jobID)

	return err == nil
}
