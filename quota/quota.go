// Package quota provides in-process usage limiters.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/gosom/gmaps-extractor/models"
)

var (
	_ models.UsageLimiter = Unlimited{}
	_ models.UsageLimiter = (*Memory)(nil)
)

// Unlimited accepts every submission.
type Unlimited struct{}

func (Unlimited) HasQuota(context.Context, string) (bool, error) {
	return true, nil
}

func (Unlimited) CommitUsage(context.Context, string) error {
	return nil
}

func (Unlimited) Refund(context.Context, string) error {
	return nil
}

// Memory allows a fixed number of jobs per user and process lifetime.
type Memory struct {
	mu    sync.Mutex
	limit int
	usage map[string]*models.UserUsage
}

func NewMemory(limit int) *Memory {
	return &Memory{limit: limit, usage: make(map[string]*models.UserUsage)}
}

func (m *Memory) HasQuota(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[userID]
	if !ok {
		return m.limit > 0, nil
	}

	return u.JobCount < m.limit, nil
}

func (m *Memory) CommitUsage(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[userID]
	if !ok {
		u = &models.UserUsage{UserID: userID, Limit: m.limit}
		m.usage[userID] = u
	}

	u.JobCount++
	u.LastJobDate = time.Now().UTC()

	return nil
}

func (m *Memory) Refund(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.usage[userID]; ok && u.JobCount > 0 {
		u.JobCount--
	}

	return nil
}

// Usage returns a copy of the user's counters.
func (m *Memory) Usage(userID string) models.UserUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.usage[userID]; ok {
		return *u
	}

	return models.UserUsage{UserID: userID, Limit: m.limit}
}
