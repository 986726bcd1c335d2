package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/pkg/llm"
)

// scriptedProvider answers each Complete call with the next scripted reply.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	block    bool
	requests []*llm.Request
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	block, err := p.block, p.err
	var content string
	if len(p.replies) > 0 {
		content, p.replies = p.replies[0], p.replies[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content}, nil
}

func testCase() *models.Case {
	return &models.Case{
		ID:        "C-TEST0001",
		Product:   "Tarjeta de Crédito",
		Stage:     models.StageReceived,
		Missing:   []string{"comprobante_domicilio"},
		Applicant: map[string]interface{}{"name": "Ana"},
	}
}

func TestParseAnalysis(t *testing.T) {
	text := "Documentos legibles.\n- DPI vigente\n  • selfie borrosa\n-sin espacio\nfin"
	got := parseAnalysis(text)
	if got.Summary != text {
		t.Errorf("summary = %q", got.Summary)
	}
	want := []string{"DPI vigente", "selfie borrosa", "sin espacio"}
	if strings.Join(got.Warnings, "|") != strings.Join(want, "|") {
		t.Errorf("warnings = %q", got.Warnings)
	}

	long := strings.Repeat("ñ", MaxSummaryChars+50)
	if n := len([]rune(parseAnalysis(long).Summary)); n != MaxSummaryChars {
		t.Errorf("summary runes = %d", n)
	}
}

func TestValidateCase(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		decision string
		fallback bool
	}{
		{"approved", `{"decision":"aprobado","reasons":["ok"],"risk_score":0.1,"next_steps":["firmar"]}`, models.DecisionApproved, false},
		{"alternative", `{"decision":"alternativa","reasons":["ingresos"],"risk_score":0.8,"next_steps":["otro producto"]}`, models.DecisionAlternative, false},
		{"not json", `la respuesta es aprobado`, models.DecisionAlternative, true},
		{"unknown decision", `{"decision":"quizas","reasons":["x"],"risk_score":0.1,"next_steps":["y"]}`, models.DecisionAlternative, true},
		{"risk out of range", `{"decision":"aprobado","reasons":["x"],"risk_score":1.5,"next_steps":["y"]}`, models.DecisionAlternative, true},
		{"empty reasons", `{"decision":"aprobado","reasons":[],"risk_score":0.1,"next_steps":["y"]}`, models.DecisionAlternative, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(&scriptedProvider{replies: []string{tt.reply}})
			got, err := a.ValidateCase(context.Background(), testCase())
			if err != nil {
				t.Fatal(err)
			}
			if got.Decision != tt.decision {
				t.Errorf("decision = %q", got.Decision)
			}
			if tt.fallback && (got.RiskScore != 0.7 || len(got.Reasons) != 1 || len(got.NextSteps) != 2) {
				t.Errorf("expected fallback, got %+v", got)
			}
		})
	}
}

func TestValidateCase_ProviderError(t *testing.T) {
	a := New(&scriptedProvider{err: errors.New("connection refused")})
	if _, err := a.ValidateCase(context.Background(), testCase()); err == nil {
		t.Error("transport failures must surface")
	}
}

func TestValidateCase_Timeout(t *testing.T) {
	a := New(&scriptedProvider{block: true}, WithTimeouts(Timeouts{Validate: 10 * time.Millisecond}))
	_, err := a.ValidateCase(context.Background(), testCase())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestAnalyzeDocuments_BuildsMultimodalRequest(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Todo legible.\n- fecha ilegible en recibo"}}
	a := New(p)
	files := []models.File{
		{Slot: "dpi", MimeType: "image/png", Size: 3, OriginalName: "dpi.png", Content: []byte{1, 2, 3}},
		{Slot: "comprobante_domicilio", MimeType: "text/plain", Size: 12, OriginalName: "recibo.txt", Content: []byte("Zona 10, Gua")},
		{Slot: "selfie", MimeType: "application/zip", Size: 5, OriginalName: "x.zip", Content: []byte("PK...")},
	}
	got, err := a.AnalyzeDocuments(context.Background(), testCase(), files)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "fecha ilegible en recibo" {
		t.Errorf("warnings = %v", got.Warnings)
	}

	parts := p.requests[0].Messages[1].Parts
	var sawImage, sawText, sawOther bool
	for _, part := range parts {
		switch {
		case part.ImageURL != nil && part.ImageURL.URL == "data:image/png;base64,AQID":
			sawImage = true
		case strings.Contains(part.Text, "Texto extraído:\nZona 10, Gua"):
			sawText = true
		case strings.Contains(part.Text, "(tipo no visual)"):
			sawOther = true
		}
	}
	if !sawImage || !sawText || !sawOther {
		t.Errorf("image=%v text=%v other=%v parts=%+v", sawImage, sawText, sawOther, parts)
	}
}

func TestAnalyzeDocuments_Error(t *testing.T) {
	a := New(&scriptedProvider{err: errors.New("503")})
	if _, err := a.AnalyzeDocuments(context.Background(), testCase(), nil); err == nil {
		t.Error("expected error")
	}
}

func TestChat(t *testing.T) {
	inScope := `{"in_scope":true,"intent":"status","confidence":0.9}`
	tests := []struct {
		name      string
		replies   []string
		err       error
		wantReply string
		check     func(t *testing.T, r *models.ChatReply)
	}{
		{
			name:      "structured reply",
			replies:   []string{inScope, `{"reply":"Vas en recibido","actions":{"publish":["📡 Consulté tu expediente."],"set_stage":"en_revision","notify":["app"]}}`},
			wantReply: "Vas en recibido",
			check: func(t *testing.T, r *models.ChatReply) {
				if r.Actions.SetStage != models.StageUnderReview || len(r.Actions.Publish) != 1 {
					t.Errorf("actions = %+v", r.Actions)
				}
			},
		},
		{
			name:      "out of scope",
			replies:   []string{`{"in_scope":false,"intent":"other","confidence":0.95}`},
			wantReply: "Puedo ayudarte con procesos de **BAM**",
		},
		{
			name:      "malformed stage",
			replies:   []string{inScope, `{"reply":"x","actions":{"set_stage":"cerrado"}}`},
			wantReply: "Te acompaño con tu solicitud de Tarjeta de Crédito.",
		},
		{
			name:      "provider down",
			err:       errors.New("dial tcp: refused"),
			wantReply: "Faltan: comprobante_domicilio.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(&scriptedProvider{replies: tt.replies, err: tt.err})
			got, err := a.Chat(context.Background(), ChatRequest{Case: testCase(), Message: "¿en qué va?", Mode: ModeBAMI})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(got.Reply, tt.wantReply) {
				t.Errorf("reply = %q, want it to contain %q", got.Reply, tt.wantReply)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestChat_HistoryAndMode(t *testing.T) {
	p := &scriptedProvider{replies: []string{`{"reply":"ok"}`}}
	a := New(p, WithScopeClassifier(false))
	history := []models.ChatMessage{
		{Role: models.RoleAssistant, Content: "¡Bienvenido!"},
		{Role: models.RoleUser, Content: "hola"},
	}
	if _, err := a.Chat(context.Background(), ChatRequest{Case: testCase(), History: history, Message: "estado", Mode: ModeTech}); err != nil {
		t.Fatal(err)
	}
	msgs := p.requests[0].Messages
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want system+context+2 history+user", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "técnico") {
		t.Error("mode prompt missing")
	}
	if !strings.HasPrefix(msgs[1].Content, "Contexto del expediente:\nCase: {") {
		t.Errorf("context = %q", msgs[1].Content)
	}
	if msgs[2].Role != llm.RoleAssistant || msgs[3].Role != llm.RoleUser || msgs[4].Content != "estado" {
		t.Errorf("history mapping wrong: %+v", msgs[2:])
	}
}

func TestTracker(t *testing.T) {
	tests := []struct {
		stage models.Stage
		done  int
	}{
		{models.StageRequiresDocs, 1},
		{models.StageReceived, 2},
		{models.StageUnderReview, 3},
		{models.StageAlternative, 4},
		{models.StageApproved, 6},
	}
	for _, tt := range tests {
		got := Tracker(tt.stage)
		if n := strings.Count(got, "✅"); n != tt.done {
			t.Errorf("Tracker(%s) checked %d steps, want %d", tt.stage, n, tt.done)
		}
		if lines := strings.Split(got, "\n"); len(lines) != 6 {
			t.Errorf("Tracker(%s) has %d lines", tt.stage, len(lines))
		}
	}
	if !strings.Contains(Tracker(models.StageUnderReview), "4. Filtro de Datos (En curso) ◻️") {
		t.Error("under review should mark step 4 in progress")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("asesor") != ModeAdvisor || ParseMode("ia") != ModeTech || ParseMode("otro") != ModeBAMI {
		t.Error("unexpected mode mapping")
	}
}

func TestMock(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	c := testCase()
	res, _ := m.ValidateCase(ctx, c)
	if res.Decision != models.DecisionAlternative {
		t.Errorf("incomplete case decision = %s", res.Decision)
	}
	c.Missing = nil
	res, _ = m.ValidateCase(ctx, c)
	if res.Decision != models.DecisionApproved {
		t.Errorf("complete case decision = %s", res.Decision)
	}

	analysis, _ := m.AnalyzeDocuments(ctx, c, []models.File{{Slot: "dpi", Size: 10}, {Slot: "selfie"}})
	if analysis.Summary != "Leí 2 documento(s): dpi, selfie." || len(analysis.Warnings) != 1 {
		t.Errorf("analysis = %+v", analysis)
	}

	reply, _ := m.Chat(ctx, ChatRequest{Case: c, Message: "Quiero hablar con un asesor"})
	if !reply.Actions.EscalateToAdvisor {
		t.Error("mock should escalate on advisor request")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.ValidateCase(cancelled, c); err == nil {
		t.Error("mock should honor cancellation")
	}
}
