package assessment

import (
	"context"
	"sync"

	"github.com/mind-engage/mindengage-training/internal/apperr"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	byForm   map[string]Structure
	formOf   map[string]string // header id -> form id
	attempts map[string]bool   // header id -> has attempts
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		byForm:   map[string]Structure{},
		formOf:   map[string]string{},
		attempts: map[string]bool{},
	}
}

func (m *MemoryStore) GetStructure(_ context.Context, formID string) (Structure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byForm[formID]
	if !ok {
		return Structure{}, apperr.ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) GetStructureByID(ctx context.Context, id string) (Structure, error) {
	m.mu.RLock()
	formID, ok := m.formOf[id]
	m.mu.RUnlock()
	if !ok {
		return Structure{}, apperr.ErrNotFound
	}
	return m.GetStructure(ctx, formID)
}

func (m *MemoryStore) CreateStructure(_ context.Context, s Structure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byForm[s.Header.FormID]; ok {
		return apperr.ErrConflict
	}
	m.byForm[s.Header.FormID] = s.clone()
	m.formOf[s.Header.ID] = s.Header.FormID
	return nil
}

func (m *MemoryStore) ReplaceStructure(_ context.Context, s Structure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byForm[s.Header.FormID]; !ok {
		return apperr.ErrNotFound
	}
	m.byForm[s.Header.FormID] = s.clone()
	return nil
}

func (m *MemoryStore) SetState(_ context.Context, id string, ch StateChange) (Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	formID, ok := m.formOf[id]
	if !ok {
		return Header{}, apperr.ErrNotFound
	}
	s := m.byForm[formID]
	s.Header.State = ch.State
	s.Header.ActiveFrom = ch.ActiveFrom
	s.Header.ActiveUntil = ch.ActiveUntil
	s.Header.UpdatedBy = ch.EditorID
	s.Header.UpdatedAt = ch.At
	m.byForm[formID] = s
	return s.Header, nil
}

func (m *MemoryStore) DeleteStructure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	formID, ok := m.formOf[id]
	if !ok {
		return apperr.ErrNotFound
	}
	delete(m.byForm, formID)
	delete(m.formOf, id)
	delete(m.attempts, id)
	return nil
}

func (m *MemoryStore) HasAttempts(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts[id], nil
}

// MarkAttempted records that id has stored attempts.
func (m *MemoryStore) MarkAttempted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[id] = true
}
