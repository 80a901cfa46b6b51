package lock

import (
	"context"
	"sync"
)

// Memory is a process-local Coordinator for development and tests.
// Coordinators built from the same Memory share one lock table, which lets
// tests simulate several worker processes.
type Memory struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

// NewMemory creates a new in-memory coordinator
func NewMemory() *Memory {
	return &Memory{held: make(map[string]uint64)}
}

// TryAcquire implements Coordinator.
func (m *Memory) TryAcquire(ctx context.Context, name string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[name]; taken {
		return Result{Outcome: Unavailable}, nil
	}

	m.seq++
	token := m.seq
	m.held[name] = token

	l := &memoryLock{name: name}
	l.once = NewOnce(func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.held[name] == token {
			delete(m.held, name)
		}
		return nil
	})
	return Result{Outcome: Acquired, Lock: l}, nil
}

// Held reports whether name is currently locked.
func (m *Memory) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

type memoryLock struct {
	name string
	once *Once
}

func (l *memoryLock) Name() string { return l.name }

func (l *memoryLock) Release(ctx context.Context) error {
	return l.once.Do(ctx)
}
