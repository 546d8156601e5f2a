package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/gosom/gmaps-extractor/models"
)

type repo struct {
	mu    *sync.RWMutex
	items map[string]models.Job
	order map[string]int
	next  int
}

// New returns a process-local job repository. Its contents are lost on exit.
func New() models.JobRepository {
	return &repo{
		mu:    &sync.RWMutex{},
		items: make(map[string]models.Job),
		order: make(map[string]int),
	}
}

func (r *repo) Get(_ context.Context, id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.items[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}

	return clone(job), nil
}

func (r *repo) Create(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[job.ID]; ok {
		return models.ErrAlreadyExists
	}

	r.items[job.ID] = clone(*job)
	r.order[job.ID] = r.next
	r.next++

	return nil
}

func (r *repo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return models.ErrNotFound
	}

	delete(r.items, id)
	delete(r.order, id)

	return nil
}

func (r *repo) Select(_ context.Context, params models.SelectParams) ([]models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []models.Job

	for _, item := range r.items {
		if params.UserID != "" && item.UserID != params.UserID {
			continue
		}

		if params.Status != "" && item.Status != params.Status {
			continue
		}

		filtered = append(filtered, clone(item))
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}

		return r.order[a.ID] > r.order[b.ID]
	})

	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}

	return filtered, nil
}

func (r *repo) UpdateIf(_ context.Context, job *models.Job, expected models.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[job.ID]
	if !ok || current.Status != expected {
		return false, nil
	}

	next := clone(*job)
	next.Logs = current.Logs
	r.items[job.ID] = next

	return true, nil
}

func (r *repo) AppendLog(_ context.Context, id string, expected models.Status, line string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok || current.Status != expected {
		return false, nil
	}

	current.Logs = append(slices.Clip(current.Logs), line)
	r.items[id] = current

	return true, nil
}

func clone(j models.Job) models.Job {
	j.Results = slices.Clone(j.Results)
	j.Logs = slices.Clone(j.Logs)

	return j
}
