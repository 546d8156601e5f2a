// Package diagnostics stores page snapshots taken when a place fails to
// extract.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Snapshot is what a browser session can tell about its current page.
type Snapshot struct {
	URL        string
	HTML       string
	Screenshot []byte
}

// Capturer receives failure snapshots. Implementations must not fail the
// caller.
type Capturer interface {
	Capture(ctx context.Context, jobID string, index int, snap Snapshot, cause error)
}

type Nop struct{}

func (Nop) Capture(context.Context, string, int, Snapshot, error) {}

// Uploader copies artifacts to remote storage.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

type Config struct {
	Enabled bool   `envconfig:"ENABLED" default:"true"`
	Dir     string `envconfig:"DIR" default:"diagnostics"`
	Bucket  string `envconfig:"BUCKET"`
}

type meta struct {
	JobID string    `json:"job_id"`
	Index int       `json:"index"`
	URL   string    `json:"url"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

type FileSinkOption func(*FileSink)

func WithUploader(u Uploader, bucket string) FileSinkOption {
	return func(s *FileSink) {
		s.uploader = u
		s.bucket = bucket
	}
}

func WithLogger(log *zap.Logger) FileSinkOption {
	return func(s *FileSink) {
		if log != nil {
			s.log = log
		}
	}
}

// FileSink writes <dir>/<jobID>/<index>.{png,html,json} and optionally
// uploads them under the same key.
type FileSink struct {
	dir      string
	uploader Uploader
	bucket   string
	log      *zap.Logger
}

func NewFileSink(dir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{dir: dir, log: zap.NewNop()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *FileSink) Capture(ctx context.Context, jobID string, index int, snap Snapshot, cause error) {
	m := meta{JobID: jobID, Index: index, URL: snap.URL, At: time.Now().UTC()}
	if cause != nil {
		m.Error = cause.Error()
	}

	metaJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		s.log.Warn("failed to encode diagnostics meta", zap.Error(err))
		return
	}

	files := map[string][]byte{
		fmt.Sprintf("%d.json", index): metaJSON,
	}

	if snap.HTML != "" {
		files[fmt.Sprintf("%d.html", index)] = []byte(snap.HTML)
	}

	if len(snap.Screenshot) > 0 {
		files[fmt.Sprintf("%d.png", index)] = snap.Screenshot
	}

	if err := s.write(ctx, jobID, files); err != nil {
		s.log.Warn("failed to store diagnostics",
			zap.String("job_id", jobID),
			zap.Int("index", index),
			zap.Error(err),
		)

		return
	}

	s.log.Debug("diagnostics captured", zap.String("job_id", jobID), zap.Int("index", index))
}

func (s *FileSink) write(ctx context.Context, jobID string, files map[string][]byte) error {
	if filepath.Base(jobID) != jobID {
		return fmt.Errorf("invalid job id %q", jobID)
	}

	dir := filepath.Join(s.dir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var errs error

	for name, data := range files {
		errs = multierr.Append(errs, os.WriteFile(filepath.Join(dir, name), data, 0o600))

		if s.uploader != nil && s.bucket != "" {
			key := jobID + "/" + name
			errs = multierr.Append(errs, s.uploader.Upload(ctx, s.bucket, key, bytes.NewReader(data)))
		}
	}

	return errs
}
