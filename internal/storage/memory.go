package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/bami/internal/models"
)

// MemoryStorage implements Repository with process-local maps. Nothing survives a restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	cases map[string]*models.Case
	chats map[string][]models.ChatMessage
}

// NewMemoryStorage returns an empty in-memory repository.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		cases: make(map[string]*models.Case),
		chats: make(map[string][]models.ChatMessage),
	}
}

// CreateCase stores a new case and an empty chat history for it.
func (m *MemoryStorage) CreateCase(_ context.Context, c *models.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, c.ID)
	}
	m.cases[c.ID] = c.Clone()
	m.chats[c.ID] = []models.ChatMessage{}
	return nil
}

// GetCase returns a copy of the case.
func (m *MemoryStorage) GetCase(_ context.Context, id string) (*models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// UpdateCase replaces an existing case.
func (m *MemoryStorage) UpdateCase(_ context.Context, c *models.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	m.cases[c.ID] = c.Clone()
	return nil
}

// ListCases returns copies of all cases in no particular order.
func (m *MemoryStorage) ListCases(_ context.Context) ([]*models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Case, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, c.Clone())
	}
	return out, nil
}

// CountCases returns the number of stored cases.
func (m *MemoryStorage) CountCases(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.cases)), nil
}

// AppendChat appends msg, creating the history when absent, and returns the full history.
func (m *MemoryStorage) AppendChat(_ context.Context, caseID string, msg models.ChatMessage) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[caseID] = append(m.chats[caseID], msg)
	return append([]models.ChatMessage(nil), m.chats[caseID]...), nil
}

// GetChat returns the chat history, empty when none exists.
func (m *MemoryStorage) GetChat(_ context.Context, caseID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ChatMessage{}, m.chats[caseID]...), nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}
