package monitor

import (
	"context"
	"sync"

	"medbrief/internal/domain"
)

// LockRegistry хранит блокировки тем внутри процесса, по одной на id.
type LockRegistry struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

var _ domain.TopicLocker = (*LockRegistry)(nil)

// NewLockRegistry создаёт пустой реестр.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[int64]struct{})}
}

// TryLock занимает тему без ожидания. Освобождение идемпотентно.
func (r *LockRegistry) TryLock(_ context.Context, topicID int64) (func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.held[topicID]; busy {
		return nil, false, nil
	}
	r.held[topicID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, topicID)
			r.mu.Unlock()
		})
	}, true, nil
}

// Held сообщает, занята ли тема.
func (r *LockRegistry) Held(topicID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.held[topicID]
	return busy
}

// Len возвращает число занятых тем.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
