package assistant

import (
	"fmt"
	"strings"

	"github.com/hyperjump/bami/internal/models"
)

// FallbackValidation is returned when the validation output cannot be parsed.
func FallbackValidation() *models.ValidationResult {
	return &models.ValidationResult{
		Decision:  models.DecisionAlternative,
		Reasons:   []string{"No se pudo estructurar la respuesta del analizador."},
		RiskScore: 0.7,
		NextSteps: []string{"Revisar documentos con un asesor", "Volver a intentar la validación"},
	}
}

var trackerSteps = []string{
	"Datos Recibidos",
	"Filtros Iniciales",
	"Clasificación (Sort)",
	"Filtro de Datos",
	"Solicitud de Datos Extra",
	"Aprobación",
}

// Tracker renders the six-step customer tracker for stage.
func Tracker(stage models.Stage) string {
	lines := make([]string, len(trackerSteps))
	for i, step := range trackerSteps {
		var mark string
		switch stage {
		case models.StageApproved:
			mark = "✅"
		case models.StageAlternative:
			mark = checkIf(i < 4)
		case models.StageUnderReview:
			switch {
			case i < 3:
				mark = "✅"
			case i == 3:
				mark = "(En curso) ◻️"
			default:
				mark = "◻️"
			}
		case models.StageReceived:
			mark = checkIf(i < 2)
		default:
			mark = checkIf(i == 0)
		}
		lines[i] = fmt.Sprintf("%d. %s %s", i+1, step, mark)
	}
	return strings.Join(lines, "\n")
}

func checkIf(done bool) string {
	if done {
		return "✅"
	}
	return "◻️"
}

// FallbackReply is a deterministic status answer built from the case alone.
func FallbackReply(c *models.Case) *models.ChatReply {
	product, stage := "producto", models.StageRequiresDocs
	var missing []string
	if c != nil {
		if c.Product != "" {
			product = c.Product
		}
		if c.Stage != "" {
			stage = c.Stage
		}
		missing = c.Missing
	}
	missingText := "No hay faltantes. Podemos pasar a revisión."
	if len(missing) > 0 {
		missingText = fmt.Sprintf("Faltan: %s.", strings.Join(missing, ", "))
	}
	reply := strings.Join([]string{
		fmt.Sprintf("Te acompaño con tu solicitud de %s.", product),
		fmt.Sprintf("Estado: **%s**.", strings.Replace(string(stage), "_", " ", 1)),
		missingText,
		"",
		"**Tracker:**\n" + Tracker(stage),
		"",
		"¿Deseas que valide con IA ahora, subir documentos o hablar con un asesor?",
	}, "\n")
	return &models.ChatReply{Reply: reply}
}

// outOfScopeReply prefixes the fallback reply with what the assistant can help with.
func outOfScopeReply(c *models.Case) *models.ChatReply {
	fb := FallbackReply(c)
	fb.Reply = "Puedo ayudarte con procesos de **BAM**: tu expediente, documentos, validación, tiempos, notificaciones, productos y contacto con un asesor.\n\n" + fb.Reply
	return fb
}
