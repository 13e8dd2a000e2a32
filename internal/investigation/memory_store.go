package investigation

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// MemoryStore is an in-memory investigation store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	cases    map[string]*Investigation
	domains  map[string]map[assessment.Domain]assessment.DomainAssessment
	overalls map[string]*assessment.OverallAssessment
}

// NewMemoryStore creates a new in-memory investigation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:    make(map[string]*Investigation),
		domains:  make(map[string]map[assessment.Domain]assessment.DomainAssessment),
		overalls: make(map[string]*assessment.OverallAssessment),
	}
}

func (m *MemoryStore) Create(ctx context.Context, inv *Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inv
	m.cases[inv.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Investigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.cases[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetDomainAssessments(ctx context.Context, investigationID string) (map[assessment.Domain]assessment.DomainAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.cases[investigationID]; !ok {
		return nil, ErrNotFound
	}
	out := make(map[assessment.Domain]assessment.DomainAssessment, len(m.domains[investigationID]))
	for d, da := range m.domains[investigationID] {
		out[d] = da
	}
	return out, nil
}

func (m *MemoryStore) PutDomainAssessment(ctx context.Context, investigationID string, da assessment.DomainAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[investigationID]; !ok {
		return ErrNotFound
	}
	if m.domains[investigationID] == nil {
		m.domains[investigationID] = make(map[assessment.Domain]assessment.DomainAssessment)
	}
	m.domains[investigationID][da.Domain] = da
	return nil
}

func (m *MemoryStore) GetOverallAssessment(ctx context.Context, investigationID string) (*assessment.OverallAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oa, ok := m.overalls[investigationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *oa
	return &cp, nil
}

func (m *MemoryStore) PutOverallAssessment(ctx context.Context, investigationID string, oa assessment.OverallAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[investigationID]; !ok {
		return ErrNotFound
	}
	m.overalls[investigationID] = &oa
	return nil
}
