// Package chat runs a user's conversation turn: it asks the assistant for a reply and
// applies the actions the assistant proposes to the case.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/pipeline"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned for blank user messages.
var ErrEmptyMessage = errors.New("message is empty")

const (
	// MaxPublished caps narration lines taken from one reply.
	MaxPublished = 6
	// MaxPublishedChars caps the length of each narration line.
	MaxPublishedChars = 500

	EscalationNarration = "📞 Conectándote con una persona asesora. Te avisaré en cuanto responda."

	noteAIAdjust = "ajuste por IA"
	emptyReply   = "…"
)

// WelcomeMessage is the first assistant message of every case.
func WelcomeMessage(caseID, product string) string {
	return fmt.Sprintf("¡Bienvenido! Abrí tu expediente %s de %s.", caseID, product)
}

// Result is the outcome of one turn.
type Result struct {
	Reply   string             `json:"reply"`
	Case    *models.PublicCase `json:"case"`
	Actions models.ChatActions `json:"-"`
}

// Service executes chat turns.
type Service struct {
	store     *cases.Store
	ai        assistant.Collaborator
	publisher pipeline.Publisher
	logger    *zap.Logger
}

// NewService returns a chat Service. A nil logger is replaced with a no-op logger.
func NewService(store *cases.Store, ai assistant.Collaborator, publisher pipeline.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ai: ai, publisher: publisher, logger: logger}
}

// Welcome appends the welcome message to a new case's chat.
func (s *Service) Welcome(ctx context.Context, c *models.Case) error {
	_, err := s.store.AppendChatMessage(ctx, c.ID, models.RoleAssistant, WelcomeMessage(c.ID, c.Product))
	return err
}

// History returns the conversation of caseID.
func (s *Service) History(ctx context.Context, caseID string) ([]models.ChatMessage, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.GetChatHistory(ctx, caseID)
}

// Send records the user message, gets a reply, applies its actions and records the reply.
// Assistant failures degrade to a status reply; action failures are logged and skipped.
func (s *Service) Send(ctx context.Context, caseID, message string, mode assistant.Mode) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetChatHistory(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AppendChatMessage(ctx, caseID, models.RoleUser, message); err != nil {
		return nil, err
	}

	reply, err := s.ai.Chat(ctx, assistant.ChatRequest{Case: c, History: history, Message: message, Mode: mode})
	if err != nil || reply == nil {
		s.logger.Warn("chat collaborator failed", zap.String("case_id", caseID), zap.Error(err))
		reply = assistant.FallbackReply(c)
	}

	s.apply(ctx, c, reply.Actions)

	text := reply.Reply
	if text == "" {
		text = emptyReply
	}
	if _, err := s.store.AppendChatMessage(ctx, caseID, models.RoleAssistant, text); err != nil {
		return nil, err
	}
	updated, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return &Result{Reply: text, Case: updated.Public(), Actions: reply.Actions}, nil
}

// apply runs the proposed actions against the case as it was when the turn began.
func (s *Service) apply(ctx context.Context, c *models.Case, acts models.ChatActions) {
	published := acts.Publish
	if len(published) > MaxPublished {
		published = published[:MaxPublished]
	}
	for _, text := range published {
		s.publisher.Publish(c.ID, models.AINarration(clip(text, MaxPublishedChars)))
	}

	var docs []string
	for _, d := range acts.MarkDocs {
		if c.HasMissing(d) {
			docs = append(docs, d)
		}
	}
	if len(docs) > 0 {
		if _, err := s.store.MarkDocumentsSubmitted(ctx, c.ID, docs); err != nil {
			s.logger.Warn("chat action mark_docs failed", zap.String("case_id", c.ID), zap.Error(err))
		}
	}

	if acts.SetStage != "" {
		if acts.SetStage.Valid() {
			if _, err := s.store.AdvanceStage(ctx, c.ID, acts.SetStage, noteAIAdjust); err != nil {
				s.logger.Warn("chat action set_stage failed", zap.String("case_id", c.ID), zap.Error(err))
			}
		} else {
			s.logger.Debug("ignoring unknown stage from assistant", zap.String("stage", string(acts.SetStage)))
		}
	}

	if acts.EscalateToAdvisor {
		s.publisher.Publish(c.ID, models.AINarration(EscalationNarration))
	}
	if len(acts.Notify) > 0 {
		s.logger.Info("notification requested", zap.String("case_id", c.ID), zap.Strings("channels", acts.Notify))
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
