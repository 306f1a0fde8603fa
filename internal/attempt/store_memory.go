package attempt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-training/internal/apperr"
)

type MemoryStore struct {
	mu       sync.RWMutex
	attempts []Attempt
}

func NewInMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) NextNumber(_ context.Context, headerID, participantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, a := range m.attempts {
		if a.HeaderID == headerID && a.ParticipantID == participantID && a.Number > max {
			max = a.Number
		}
	}
	return max + 1, nil
}

func (m *MemoryStore) Insert(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.attempts {
		if x.HeaderID == a.HeaderID && x.ParticipantID == a.ParticipantID && x.Number == a.Number {
			return fmt.Errorf("%w: attempt %d already recorded", apperr.ErrConflict, a.Number)
		}
	}
	a.Details = append([]Detail(nil), a.Details...)
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MemoryStore) List(_ context.Context, headerID, participantID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if a.HeaderID != headerID || (participantID != "" && a.ParticipantID != participantID) {
			continue
		}
		a.Details = append([]Detail(nil), a.Details...)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}
