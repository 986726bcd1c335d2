// Package storage defines the persistence interface for cases and chat histories.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/bami/internal/models"
)

var (
	// ErrNotFound is returned when a case id is unknown.
	ErrNotFound = errors.New("case not found")
	// ErrExists is returned when creating a case whose id is already taken.
	ErrExists = errors.New("case already exists")
)

// Repository defines case and chat persistence operations.
// Implementations return copies; mutating a returned case never changes stored state.
type Repository interface {
	// Case operations
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	UpdateCase(ctx context.Context, c *models.Case) error
	ListCases(ctx context.Context) ([]*models.Case, error)
	CountCases(ctx context.Context) (int64, error)

	// Chat operations
	AppendChat(ctx context.Context, caseID string, msg models.ChatMessage) ([]models.ChatMessage, error)
	GetChat(ctx context.Context, caseID string) ([]models.ChatMessage, error)

	Close() error
}
