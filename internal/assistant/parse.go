package assistant

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/bami/internal/models"
)

// MaxSummaryChars bounds the analysis summary.
const MaxSummaryChars = 1200

// ErrMalformed marks model output that does not match the expected shape.
var ErrMalformed = errors.New("malformed model output")

// parseValidation decodes and checks a validation result.
func parseValidation(raw string) (*models.ValidationResult, error) {
	var out struct {
		Decision  *string  `json:"decision"`
		Reasons   []string `json:"reasons"`
		RiskScore *float64 `json:"risk_score"`
		NextSteps []string `json:"next_steps"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, ErrMalformed
	}
	switch {
	case out.Decision == nil || (*out.Decision != models.DecisionApproved && *out.Decision != models.DecisionAlternative):
		return nil, ErrMalformed
	case len(out.Reasons) == 0 || len(out.NextSteps) == 0:
		return nil, ErrMalformed
	case out.RiskScore == nil || *out.RiskScore < 0 || *out.RiskScore > 1:
		return nil, ErrMalformed
	}
	return &models.ValidationResult{
		Decision:  *out.Decision,
		Reasons:   out.Reasons,
		RiskScore: *out.RiskScore,
		NextSteps: out.NextSteps,
	}, nil
}

var notifyChannels = map[string]bool{"app": true, "whatsapp": true, "email": true}

// parseChatReply decodes and checks an orchestrator reply.
func parseChatReply(raw string) (*models.ChatReply, error) {
	var out struct {
		Reply   *string            `json:"reply"`
		Actions models.ChatActions `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, ErrMalformed
	}
	if out.Reply == nil {
		return nil, ErrMalformed
	}
	if out.Actions.SetStage != "" && !out.Actions.SetStage.Valid() {
		return nil, ErrMalformed
	}
	for _, ch := range out.Actions.Notify {
		if !notifyChannels[ch] {
			return nil, ErrMalformed
		}
	}
	return &models.ChatReply{Reply: *out.Reply, Actions: out.Actions}, nil
}

type intent struct {
	InScope    bool    `json:"in_scope"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (i intent) outOfScope() bool {
	return !i.InScope || i.Intent == "other"
}

// parseIntent decodes a classification; anything unreadable counts as in scope.
func parseIntent(raw string) intent {
	var out intent
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.Intent == "" {
		return intent{InScope: true, Intent: "status", Confidence: 0.5}
	}
	return out
}

// parseAnalysis turns free text into a summary and the bullet lines as warnings.
func parseAnalysis(text string) *models.Analysis {
	warnings := []string{}
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		for _, bullet := range []string{"-", "•"} {
			if strings.HasPrefix(t, bullet) {
				t = strings.TrimPrefix(t, bullet)
				t = strings.TrimPrefix(t, " ")
				warnings = append(warnings, t)
				break
			}
		}
	}
	return &models.Analysis{Summary: truncateRunes(text, MaxSummaryChars), Warnings: warnings}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
