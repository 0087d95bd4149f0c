package decision

import (
	"strings"

	"github.com/cortex-ops/cortex/pkg/models"
)

// Verdict is the structured form of an LLM completion.
type Verdict struct {
	Status   models.DecisionStatus
	Reason   string
	Analysis string
}

// parseVerdict extracts DECISION, REASON, and ANALYSIS lines from an LLM
// completion. A completion without a recognizable DECISION line is rejected,
// with the raw output preserved as the analysis for operator review.
func parseVerdict(output string) Verdict {
	var decisionLine, reason, analysis string

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			decisionLine = strings.TrimSpace(trimmed[len("DECISION:"):])
		case strings.HasPrefix(upper, "REASON:"):
			reason = strings.TrimSpace(trimmed[len("REASON:"):])
		case strings.HasPrefix(upper, "ANALYSIS:"):
			analysis = strings.TrimSpace(trimmed[len("ANALYSIS:"):])
		}
	}

	upper := strings.ToUpper(decisionLine)
	switch {
	case strings.Contains(upper, "APPROVE"):
		return Verdict{Status: models.DecisionApproved, Reason: reason, Analysis: analysis}
	case strings.Contains(upper, "REJECT"):
		return Verdict{Status: models.DecisionRejected, Reason: reason, Analysis: analysis}
	default:
		return Verdict{
			Status:   models.DecisionRejected,
			Reason:   "unable to parse LLM output",
			Analysis: output,
		}
	}
}
