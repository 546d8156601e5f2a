package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gosom/gmaps-extractor/testcontainers"
	"github.com/gosom/gmaps-extractor/redis"
	"github.com/gosom/gmaps-extractor/redis/config"
	"github.com/gosom/gmaps-extractor/redis/tasks"
)

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) RunJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids = append(r.ids, jobID)

	return nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ids...)
}

func TestLaunchedJobRunsOnWorker(t *testing.T) {
	addr := testcontainers.Redis(t)

	t.Setenv("REDIS_URL", "redis://"+addr+"/0")

	cfg, err := config.NewRedisConfig()
	require.NoError(t, err)

	client := redis.NewClient(cfg)
	t.Cleanup(func() { _ = client.Close() })

	runner := &recordingRunner{}
	handler := tasks.NewHandler(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	srv := redis.NewServer(cfg, zaptest.NewLogger(t))

	go func() { done <- srv.Run(ctx, handler.Mux()) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.NoError(t, client.Launch(context.Background(), "job-a"))
	require.NoError(t, client.Launch(context.Background(), "job-b"))

	require.Eventually(t, func() bool {
		return len(runner.seen()) == 2
	}, 20*time.Second, 100*time.Millisecond)

	require.ElementsMatch(t, []string{"job-a", "job-b"}, runner.seen())
}
