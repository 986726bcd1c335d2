package models

import "time"

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a case's conversation.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Validation decisions returned by the risk analyst.
const (
	DecisionApproved    = "aprobado"
	DecisionAlternative = "alternativa"
)

// ValidationResult is the risk decision for a case.
type ValidationResult struct {
	Decision  string   `json:"decision"`
	Reasons   []string `json:"reasons"`
	RiskScore float64  `json:"risk_score"`
	NextSteps []string `json:"next_steps"`
}

// TerminalStage maps the decision to the stage a case moves to.
// Anything other than an approval is treated as an alternative offer.
func (v *ValidationResult) TerminalStage() Stage {
	if v != nil && v.Decision == DecisionApproved {
		return StageApproved
	}
	return StageAlternative
}

// Analysis is the document reading outcome.
type Analysis struct {
	Summary  string   `json:"summary"`
	Warnings []string `json:"warnings"`
}

// ChatActions are side effects the assistant proposes alongside a reply.
type ChatActions struct {
	Publish           []string `json:"publish,omitempty"`
	SetStage          Stage    `json:"set_stage,omitempty"`
	MarkDocs          []string `json:"mark_docs,omitempty"`
	EscalateToAdvisor bool     `json:"escalate_to_advisor,omitempty"`
	Notify            []string `json:"notify,omitempty"`
}

// ChatReply is the assistant's answer to a user message.
type ChatReply struct {
	Reply   string      `json:"reply"`
	Actions ChatActions `json:"actions,omitempty"`
}

// Narration is the payload pushed to live case subscribers.
type Narration struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// AINarration builds a narration attributed to the assistant.
func AINarration(text string) Narration {
	return Narration{Role: "ai", Text: text}
}
