package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gosom/gmaps-extractor/models"
)

func sample(jobID string, idx int) *models.Checkpoint {
	return &models.Checkpoint{
		JobID:               jobID,
		Keyword:             "coffee",
		LastProcessedIndex:  idx,
		TotalProcessed:      idx + 1,
		Records:             []models.Record{{Name: "A", Phone: "1"}, {Name: "B"}},
		WithoutPhoneSkipped: 1,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	store := NewStore(backend)
	ctx := context.Background()

	assert.False(t, store.Exists(ctx, "job-1"))

	cp, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.True(t, store.Save(ctx, sample("job-1", 4)))
	assert.FileExists(t, filepath.Join(dir, "job-1.json"))
	assert.True(t, store.Exists(ctx, "job-1"))

	got, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.LastProcessedIndex)
	assert.Equal(t, 5, got.NextIndex())
	assert.Len(t, got.Records, 2)
	assert.False(t, got.SavedAt.IsZero())

	require.True(t, store.Save(ctx, sample("job-1", 9)))

	got, err = store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.LastProcessedIndex)

	require.NoError(t, store.Delete(ctx, "job-1"))
	require.NoError(t, store.Delete(ctx, "job-1"))
	assert.False(t, store.Exists(ctx, "job-1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	err = backend.Put(context.Background(), "../escape", []byte("{}"))
	require.Error(t, err)
}

func TestStoreCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-2.json"), []byte("{not json"), 0o600))

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	_, err = NewStore(backend).Load(context.Background(), "job-2")
	require.Error(t, err)
}

type failingBackend struct{}

func (failingBackend) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("io error")
}

func (failingBackend) Remove(context.Context, string) error {
	return errors.New("io error")
}

func TestSaveSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := NewStore(failingBackend{}, WithLogger(zap.New(core)))

	assert.NotPanics(t, func() {
		assert.False(t, store.Save(context.Background(), sample("job-3", 1)))
	})
	assert.Equal(t, 1, logs.FilterMessage("failed to save checkpoint").Len())

	_, err := store.Load(context.Background(), "job-3")
	require.Error(t, err)
}

func TestDisabledStore(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	for name, store := range map[string]*Store{
		"disabled": Disabled(),
		"option":   NewStore(backend, WithEnabled(false)),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.False(t, store.Enabled())
			assert.False(t, store.Save(ctx, sample("job-5", 1)))
			assert.False(t, store.Exists(ctx, "job-5"))

			cp, err := store.Load(ctx, "job-5")
			require.NoError(t, err)
			assert.Nil(t, cp)
			require.NoError(t, store.Delete(ctx, "job-5"))
		})
	}
}
