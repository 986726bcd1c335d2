// Package assistant provides the AI judgments the case workflow depends on:
// document reading, risk validation and the conversational assistant.
package assistant

import (
	"context"

	"github.com/hyperjump/bami/internal/models"
)

// Mode selects the assistant's conversational register.
type Mode string

const (
	ModeBAMI    Mode = "bami"
	ModeTech    Mode = "ia"
	ModeAdvisor Mode = "asesor"
)

// ParseMode maps free-form input to a Mode, defaulting to ModeBAMI.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeTech, ModeAdvisor:
		return Mode(s)
	default:
		return ModeBAMI
	}
}

// ChatRequest is one user turn with its conversational context.
type ChatRequest struct {
	Case *models.Case
	// History is the chat so far, excluding Message.
	History []models.ChatMessage
	Message string
	Mode    Mode
}

// Collaborator supplies the AI judgments used by the pipeline, manual validation and chat.
type Collaborator interface {
	// AnalyzeDocuments reviews an upload batch for legibility and consistency.
	AnalyzeDocuments(ctx context.Context, snapshot *models.Case, files []models.File) (*models.Analysis, error)
	// ValidateCase returns a risk decision. Malformed model output yields a fallback
	// result, never an error; errors mean the call itself failed.
	ValidateCase(ctx context.Context, snapshot *models.Case) (*models.ValidationResult, error)
	// Chat answers a user message and proposes actions.
	Chat(ctx context.Context, req ChatRequest) (*models.ChatReply, error)
}
