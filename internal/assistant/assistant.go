package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/bami/internal/extract"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/pkg/llm"
	"go.uber.org/zap"
)

// Default per-call deadlines.
const (
	DefaultAnalyzeTimeout  = 60 * time.Second
	DefaultValidateTimeout = 45 * time.Second
	DefaultChatTimeout     = 45 * time.Second
)

// Timeouts bounds each kind of model call.
type Timeouts struct {
	Analyze  time.Duration
	Validate time.Duration
	Chat     time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Analyze <= 0 {
		t.Analyze = DefaultAnalyzeTimeout
	}
	if t.Validate <= 0 {
		t.Validate = DefaultValidateTimeout
	}
	if t.Chat <= 0 {
		t.Chat = DefaultChatTimeout
	}
	return t
}

// Assistant implements Collaborator on top of a chat-completion provider.
type Assistant struct {
	provider  llm.Provider
	extractor *extract.Extractor
	timeouts  Timeouts
	classify  bool
	logger    *zap.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// WithTimeouts overrides the per-call deadlines; zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(a *Assistant) { a.timeouts = t.withDefaults() }
}

// WithExtractor sets the extractor used to inline document text.
func WithExtractor(e *extract.Extractor) Option {
	return func(a *Assistant) { a.extractor = e }
}

// WithScopeClassifier enables the pre-chat scope check.
func WithScopeClassifier(enabled bool) Option {
	return func(a *Assistant) { a.classify = enabled }
}

// New returns an Assistant backed by provider.
func New(provider llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		provider:  provider,
		extractor: extract.NewExtractor(8000),
		timeouts:  Timeouts{}.withDefaults(),
		classify:  true,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ Collaborator = (*Assistant)(nil)

func (a *Assistant) complete(ctx context.Context, timeout time.Duration, req *llm.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	a.logger.Debug("model call",
		zap.Duration("took", time.Since(start)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp.Content, nil
}

// AnalyzeDocuments sends the batch to the model: images inline, other documents as extracted text.
func (a *Assistant) AnalyzeDocuments(ctx context.Context, snapshot *models.Case, files []models.File) (*models.Analysis, error) {
	parts := []llm.ContentPart{llm.TextPart(analysisInstructions)}
	if snapshot != nil {
		parts = append(parts, llm.TextPart(fmt.Sprintf("Expediente %s · %s · solicitante: %s",
			snapshot.ID, snapshot.Product, applicantJSON(snapshot.Applicant))))
	}
	for _, f := range files {
		parts = append(parts, a.fileParts(f)...)
	}

	text, err := a.complete(ctx, a.timeouts.Analyze, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: reviewerPrompt},
			{Role: llm.RoleUser, Parts: parts},
		},
		Temperature: llm.Temperature(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze documents: %w", err)
	}
	return parseAnalysis(text), nil
}

func (a *Assistant) fileParts(f models.File) []llm.ContentPart {
	label := fmt.Sprintf("(%s) %s · %s · %dKB", f.Slot, f.OriginalName, f.MimeType, (f.Size+512)/1024)
	kind := extract.KindOf(f.MimeType, f.OriginalName)
	if kind == extract.KindImage {
		url := "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Content)
		return []llm.ContentPart{llm.TextPart("Imagen " + label), llm.ImagePart(url)}
	}

	text, err := a.extractor.ForMIME(f.Content, f.MimeType, f.OriginalName)
	switch {
	case err == nil && strings.TrimSpace(text) != "":
		return []llm.ContentPart{llm.TextPart(fmt.Sprintf("Documento %s. Texto extraído:\n%s", label, text))}
	case kind == extract.KindPDF:
		if err != nil {
			a.logger.Debug("pdf text unavailable", zap.String("slot", f.Slot), zap.Error(err))
		}
		return []llm.ContentPart{llm.TextPart("PDF " + label + ". Si no puedes leer el PDF, indícalo.")}
	default:
		if err != nil && !errors.Is(err, extract.ErrNoText) {
			a.logger.Debug("document text unavailable", zap.String("slot", f.Slot), zap.Error(err))
		}
		return []llm.ContentPart{llm.TextPart("Archivo " + label + " (tipo no visual).")}
	}
}

// ValidateCase asks for a risk decision. Unparseable output yields FallbackValidation.
func (a *Assistant) ValidateCase(ctx context.Context, snapshot *models.Case) (*models.ValidationResult, error) {
	caseJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode case: %w", err)
	}
	raw, err := a.complete(ctx, a.timeouts.Validate, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: validatorPrompt},
			{Role: llm.RoleUser, Content: "Expediente:\n" + string(caseJSON)},
			{Role: llm.RoleUser, Content: "Genera la evaluación ahora. SOLO JSON."},
		},
		Temperature:    llm.Temperature(0),
		ResponseFormat: llm.SchemaFormat("BAMIValidation", validationSchema),
	})
	if err != nil {
		return nil, fmt.Errorf("validate case: %w", err)
	}
	result, err := parseValidation(raw)
	if err != nil {
		a.logger.Warn("validation output malformed, using fallback", zap.String("case_id", caseID(snapshot)))
		return FallbackValidation(), nil
	}
	return result, nil
}

// Chat answers in the requested mode. Model failures degrade to FallbackReply.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (*models.ChatReply, error) {
	if a.classify && a.outOfScope(ctx, req.Message) {
		return outOfScopeReply(req.Case), nil
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: orchestratorPrompt + "\n" + modePrompts[ParseMode(string(req.Mode))]}}
	if req.Case != nil {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Contexto del expediente:\n" + caseContext(req.Case)})
	}
	for _, m := range req.History {
		role := llm.RoleAssistant
		if m.Role == models.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	raw, err := a.complete(ctx, a.timeouts.Chat, &llm.Request{
		Messages:       messages,
		Temperature:    llm.Temperature(0.3),
		ResponseFormat: llm.SchemaFormat("BAMIOrchestrator", orchestratorSchema),
	})
	if err != nil {
		a.logger.Warn("chat call failed, using fallback", zap.String("case_id", caseID(req.Case)), zap.Error(err))
		return FallbackReply(req.Case), nil
	}
	reply, err := parseChatReply(raw)
	if err != nil {
		a.logger.Warn("chat output malformed, using fallback", zap.String("case_id", caseID(req.Case)))
		return FallbackReply(req.Case), nil
	}
	return reply, nil
}

// outOfScope reports whether the classifier put message outside the assistant's scope.
// Classifier failures count as in scope.
func (a *Assistant) outOfScope(ctx context.Context, message string) bool {
	raw, err := a.complete(ctx, a.timeouts.Chat, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifierPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Clasifica este mensaje:\n%q", message)},
		},
		Temperature:    llm.Temperature(0),
		ResponseFormat: llm.SchemaFormat("BAMIIntent", intentSchema),
	})
	if err != nil {
		a.logger.Debug("scope classifier failed", zap.Error(err))
		return false
	}
	return parseIntent(raw).outOfScope()
}

func caseContext(c *models.Case) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":        c.ID,
		"stage":     c.Stage,
		"missing":   c.Missing,
		"product":   c.Product,
		"applicant": c.Applicant,
	})
	return "Case: " + string(b)
}

func applicantJSON(applicant map[string]interface{}) string {
	b, err := json.Marshal(applicant)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func caseID(c *models.Case) string {
	if c == nil {
		return ""
	}
	return c.ID
}
