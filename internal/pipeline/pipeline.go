// Package pipeline runs the background document reading sequence for upload
// batches: narrate, analyze, validate, decide.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"go.uber.org/zap"
)

// Narration texts published to case subscribers.
const (
	MsgReviewing   = "🔍 Revisando legibilidad y consistencia…"
	MsgApproved    = "✅ Aprobado. Prepararé contrato y siguientes pasos."
	MsgAlternative = "🔁 No aprobado. Tengo una alternativa que se ajusta a tu perfil."

	noteReading   = "IA leyendo documentos"
	noteAnalyzing = "IA analizando"
)

// Publisher delivers narration to live subscribers of a case.
type Publisher interface {
	Publish(caseID string, payload interface{})
}

// Status is the outcome of one run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Steps of a run, in order.
const (
	StepReview   = "review"
	StepAnalyze  = "analyze"
	StepValidate = "validate"
	StepDecide   = "decide"
)

// Result records how a run ended. Failed runs keep every transition committed before Step.
type Result struct {
	CaseID   string
	Status   Status
	Step     string
	Decision string
	Err      error
	Duration time.Duration
}

// Observations formats analysis warnings as a single narration line.
func Observations(warnings []string) string {
	return "⚠️ Observaciones: " + strings.Join(warnings, " · ")
}

// DecisionNarration returns the closing narration for a decision.
func DecisionNarration(decision string) string {
	if decision == models.DecisionApproved {
		return MsgApproved
	}
	return MsgAlternative
}

func decisionNote(decision string) string {
	return "Decisión IA: " + decision
}

// Run executes the reading sequence for caseID synchronously. It never panics on
// collaborator failures; they are reported in the Result.
func (r *Runner) Run(ctx context.Context, caseID string, files []models.File) Result {
	start := time.Now()
	res := r.run(ctx, caseID, files)
	res.CaseID = caseID
	res.Duration = time.Since(start)
	r.record(res)
	return res
}

func (r *Runner) run(ctx context.Context, caseID string, files []models.File) Result {
	if _, err := r.store.GetCase(ctx, caseID); err != nil {
		if errors.Is(err, cases.ErrNotFound) {
			return Result{Status: StatusSkipped, Step: StepReview, Err: err}
		}
		return failed(StepReview, err)
	}

	snapshot, err := r.store.AdvanceStage(ctx, caseID, models.StageUnderReview, noteReading)
	if err != nil {
		return failed(StepReview, err)
	}
	r.publisher.Publish(caseID, models.AINarration(MsgReviewing))

	analysis, err := r.ai.AnalyzeDocuments(ctx, snapshot, files)
	if err != nil {
		return failed(StepAnalyze, err)
	}
	if analysis.Summary != "" {
		r.publisher.Publish(caseID, models.AINarration(analysis.Summary))
	}
	if len(analysis.Warnings) > 0 {
		r.publisher.Publish(caseID, models.AINarration(Observations(analysis.Warnings)))
	}

	// Chat actions may have changed the case while the documents were read.
	fresh, err := r.store.GetCase(ctx, caseID)
	if err != nil {
		return failed(StepValidate, err)
	}
	result, err := r.ai.ValidateCase(ctx, fresh)
	if err != nil {
		return failed(StepValidate, err)
	}

	if _, err := r.store.AdvanceStage(ctx, caseID, result.TerminalStage(), decisionNote(result.Decision)); err != nil {
		return failed(StepDecide, err)
	}
	r.publisher.Publish(caseID, models.AINarration(DecisionNarration(result.Decision)))
	return Result{Status: StatusCompleted, Step: StepDecide, Decision: result.Decision}
}

func failed(step string, err error) Result {
	return Result{Status: StatusFailed, Step: step, Err: err}
}

func (r *Runner) record(res Result) {
	fields := []zap.Field{
		zap.String("case_id", res.CaseID),
		zap.String("status", string(res.Status)),
		zap.String("step", res.Step),
		zap.Duration("took", res.Duration),
	}
	switch res.Status {
	case StatusCompleted:
		r.logger.Info("reading pipeline completed", append(fields, zap.String("decision", res.Decision))...)
	case StatusSkipped:
		r.logger.Info("reading pipeline skipped", append(fields, zap.Error(res.Err))...)
	default:
		r.logger.Warn("reading pipeline failed", append(fields, zap.Error(res.Err))...)
	}
	r.mu.Lock()
	hooks := append([]func(Result){}, r.onResult...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(res)
	}
}

// ErrCollaborator wraps validation failures surfaced to manual callers.
var ErrCollaborator = errors.New("ai collaborator failed")

// Validator performs on-demand validation outside the background pipeline.
type Validator struct {
	store  *cases.Store
	ai     assistant.Collaborator
	logger *zap.Logger
}

// NewValidator returns a Validator.
func NewValidator(store *cases.Store, ai assistant.Collaborator, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: store, ai: ai, logger: logger}
}

// Validate moves the case to en_revision, asks for a decision and applies it.
// Collaborator errors are returned wrapped in ErrCollaborator; the case stays in en_revision.
func (v *Validator) Validate(ctx context.Context, caseID string) (*models.ValidationResult, *models.Case, error) {
	snapshot, err := v.store.AdvanceStage(ctx, caseID, models.StageUnderReview, noteAnalyzing)
	if err != nil {
		return nil, nil, err
	}
	result, err := v.ai.ValidateCase(ctx, snapshot)
	if err != nil {
		v.logger.Warn("manual validation failed", zap.String("case_id", caseID), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	c, err := v.store.AdvanceStage(ctx, caseID, result.TerminalStage(), decisionNote(result.Decision))
	if err != nil {
		return nil, nil, err
	}
	v.logger.Info("manual validation", zap.String("case_id", caseID), zap.String("decision", result.Decision))
	return result, c, nil
}
