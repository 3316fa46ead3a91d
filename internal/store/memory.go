// Package store provides Job State Store implementations: a Postgres-backed
// store for deployments and an in-memory store for tests and standalone runs.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adforge/internal/domain"
)

// Memory is a mutex-guarded in-memory JobStore. Reads return deep copies so
// callers never alias coordinator-owned state.
type Memory struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	order  []string
	claims map[string]string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*domain.Job),
		claims: make(map[string]string),
	}
}

func (m *Memory) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	m.order = append(m.order, job.ID)
	return nil
}

func (m *Memory) Update(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	m.jobs[job.ID] = job.Clone()
	if job.State.Terminal() {
		delete(m.claims, job.ID)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) ListPending(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []string
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok && !job.State.Terminal() {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (m *Memory) ClaimQueued(ctx context.Context, workerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if !ok || job.State.Terminal() {
			continue
		}
		if _, claimed := m.claims[id]; claimed {
			continue
		}
		m.claims[id] = workerID
		return id, nil
	}
	return "", domain.ErrNotFound
}

func (m *Memory) DeleteExpired(ctx context.Context, retentionDays int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if ok && job.State.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			delete(m.claims, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

var _ domain.JobStore = (*Memory)(nil)
