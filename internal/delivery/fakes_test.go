package delivery

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/task-notifier/internal/delivery/domain"
	"github.com/cuongbtq/task-notifier/internal/transport"
)

// memStore is an in-memory delivery log with the same conditional
// transitions as the SQL store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.DeliveryJob

	appendErr error
	claimErrs int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.DeliveryJob)}
}

func (m *memStore) put(job domain.DeliveryJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = &job
}

func (m *memStore) get(id string) domain.DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) Append(_ context.Context, _ sqlx.ExtContext, job *domain.DeliveryJob) error {
	if m.appendErr != nil {
		return domain.NewStorageError("append delivery job", m.appendErr)
	}
	job.Status = domain.StatusPending
	m.put(*job)
	return nil
}

func (m *memStore) MarkInFlight(_ context.Context, id string) (*domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claimErrs > 0 {
		m.claimErrs--
		return nil, domain.NewStorageError("mark in flight", errors.New("connection refused"))
	}

	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusPending {
		return nil, domain.ErrAlreadyClaimed
	}
	job.Status = domain.StatusInFlight
	job.AttemptCount++
	job.UpdatedAt = time.Now()
	cp := *job
	return &cp, nil
}

func (m *memStore) MarkTerminal(_ context.Context, id string, status domain.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusInFlight {
		return domain.ErrAlreadyClaimed
	}
	job.Status = status
	if errMsg != "" {
		job.LastError = sql.NullString{String: errMsg, Valid: true}
	}
	if status == domain.StatusSent {
		job.SentAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (m *memStore) MarkRetry(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusInFlight {
		return domain.ErrAlreadyClaimed
	}
	job.Status = domain.StatusPending
	job.LastError = sql.NullString{String: errMsg, Valid: true}
	return nil
}

func (m *memStore) ListRecoverable(_ context.Context) ([]domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DeliveryJob
	for _, j := range m.jobs {
		if j.Status.IsRecoverable() {
			out = append(out, *j)
		}
	}
	slices.SortFunc(out, func(a, b domain.DeliveryJob) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *memStore) ResetInFlight(_ context.Context, id string, olderThan time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusInFlight || time.Since(job.UpdatedAt) < olderThan {
		return false, nil
	}
	job.Status = domain.StatusPending
	return true, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) List(_ context.Context, filter domain.ListFilter) ([]domain.DeliveryJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DeliveryJob
	for _, j := range m.jobs {
		if filter.Status == "" || j.Status == filter.Status {
			out = append(out, *j)
		}
	}
	return out, false, nil
}

// scriptedSender fails according to fn and records every call.
type scriptedSender struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(msg transport.Message, call int) error
}

func newScriptedSender(fn func(msg transport.Message, call int) error) *scriptedSender {
	return &scriptedSender{calls: make(map[string]int), fn: fn}
}

func (s *scriptedSender) Send(_ context.Context, msg transport.Message) error {
	s.mu.Lock()
	s.calls[msg.ID]++
	call := s.calls[msg.ID]
	s.mu.Unlock()

	if s.fn == nil {
		return nil
	}
	return s.fn(msg, call)
}

func (s *scriptedSender) callsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}
