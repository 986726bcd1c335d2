package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/bami/internal/models"
)

// Mock is a deterministic Collaborator used when no model is configured.
// A case is approved once nothing is missing.
type Mock struct{}

// NewMock returns a Mock collaborator.
func NewMock() *Mock {
	return &Mock{}
}

var _ Collaborator = (*Mock)(nil)

// AnalyzeDocuments reports the slots it saw and flags empty files.
func (m *Mock) AnalyzeDocuments(ctx context.Context, _ *models.Case, files []models.File) (*models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slots := make([]string, 0, len(files))
	warnings := []string{}
	for _, f := range files {
		slots = append(slots, f.Slot)
		if f.Size == 0 && len(f.Content) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s: archivo vacío", f.Slot))
		}
	}
	summary := fmt.Sprintf("Leí %d documento(s): %s.", len(files), strings.Join(slots, ", "))
	return &models.Analysis{Summary: summary, Warnings: warnings}, nil
}

// ValidateCase approves complete cases and offers an alternative otherwise.
func (m *Mock) ValidateCase(ctx context.Context, snapshot *models.Case) (*models.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snapshot == nil || len(snapshot.Missing) > 0 {
		var missing []string
		if snapshot != nil {
			missing = snapshot.Missing
		}
		return &models.ValidationResult{
			Decision:  models.DecisionAlternative,
			Reasons:   []string{"Faltan documentos: " + strings.Join(missing, ", ")},
			RiskScore: 0.6,
			NextSteps: []string{"Completar documentos pendientes"},
		}, nil
	}
	return &models.ValidationResult{
		Decision:  models.DecisionApproved,
		Reasons:   []string{"Documentación completa"},
		RiskScore: 0.2,
		NextSteps: []string{"Firmar contrato"},
	}, nil
}

// Chat answers with the status fallback and escalates when an advisor is requested.
func (m *Mock) Chat(ctx context.Context, req ChatRequest) (*models.ChatReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := FallbackReply(req.Case)
	if strings.Contains(strings.ToLower(req.Message), "asesor") {
		reply.Actions.EscalateToAdvisor = true
	}
	return reply, nil
}
