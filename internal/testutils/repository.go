package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosom/gmaps-extractor/models"
)

// RepositoryContract runs the behaviour every models.JobRepository must share
// against a fresh repository from newRepo.
func RepositoryContract(t *testing.T, newRepo func(t *testing.T) models.JobRepository) {
	t.Helper()

	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")

		require.NoError(t, repo.Create(ctx, &job))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, models.StatusProcessing, got.Status)
		assert.Equal(t, job.Params, got.Params)
		assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("create duplicate", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")

		require.NoError(t, repo.Create(ctx, &job))
		assert.ErrorIs(t, repo.Create(ctx, &job), models.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")

		require.NoError(t, repo.Create(ctx, &job))
		require.NoError(t, repo.Delete(ctx, job.ID))

		_, err := repo.Get(ctx, job.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, job.ID), models.ErrNotFound)
	})

	t.Run("update if status matches", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")
		require.NoError(t, repo.Create(ctx, &job))

		now := time.Now().UTC().Truncate(time.Second)
		job.Status = models.StatusCompleted
		job.Results = Records(3)
		job.TotalResults = 3
		job.DuplicatesSkipped = 2
		job.Progress = 100
		job.CompletedAt = &now

		ok, err := repo.UpdateIf(ctx, &job, models.StatusProcessing)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, job.Results, got.Results)
		assert.Equal(t, 3, got.TotalResults)
		assert.Equal(t, 2, got.DuplicatesSkipped)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, now.Equal(*got.CompletedAt))
	})

	t.Run("update if status differs", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")
		require.NoError(t, repo.Create(ctx, &job))

		cancelled := job
		cancelled.Status = models.StatusCancelled
		ok, err := repo.UpdateIf(ctx, &cancelled, models.StatusProcessing)
		require.NoError(t, err)
		require.True(t, ok)

		late := job
		late.Status = models.StatusCompleted
		late.Results = Records(2)
		ok, err = repo.UpdateIf(ctx, &late, models.StatusProcessing)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.Empty(t, got.Results)
	})

	t.Run("update missing", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")

		ok, err := repo.UpdateIf(ctx, &job, models.StatusProcessing)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("append log", func(t *testing.T) {
		repo := newRepo(t)
		job := NewJob("u1")
		require.NoError(t, repo.Create(ctx, &job))

		for _, line := range []string{"one", "two"} {
			ok, err := repo.AppendLog(ctx, job.ID, models.StatusProcessing, line)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		// a full update keeps previously appended lines
		job.Progress = 40
		ok, err := repo.UpdateIf(ctx, &job, models.StatusProcessing)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.AppendLog(ctx, job.ID, models.StatusCompleted, "three")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, got.Logs)
		assert.Equal(t, 40, got.Progress)
	})

	t.Run("select", func(t *testing.T) {
		repo := newRepo(t)

		a := NewJob("u1")
		b := NewJob("u2")
		c := NewJob("u1")
		c.Status = models.StatusFailed

		for _, j := range []*models.Job{&a, &b, &c} {
			require.NoError(t, repo.Create(ctx, j))
		}

		tests := []struct {
			name   string
			params models.SelectParams
			want   []string
		}{
			{"all newest first", models.SelectParams{}, []string{c.ID, b.ID, a.ID}},
			{"by user", models.SelectParams{UserID: "u1"}, []string{c.ID, a.ID}},
			{"by status", models.SelectParams{Status: models.StatusProcessing}, []string{b.ID, a.ID}},
			{"limit", models.SelectParams{UserID: "u1", Limit: 1}, []string{c.ID}},
			{"no match", models.SelectParams{UserID: "nobody"}, nil},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				jobs, err := repo.Select(ctx, tc.params)
				require.NoError(t, err)

				var ids []string
				for i := range jobs {
					ids = append(ids, jobs[i].ID)
				}

				assert.Equal(t, tc.want, ids)
			})
		}
	})
}
