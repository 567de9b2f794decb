// Package lookback prefills a new assessment from the case record and from
// the subject's most recent completed assessment.
package lookback

import (
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

const (
	SourceStatic  = "static"
	SourceDynamic = "dynamic"
	SourceManual  = "manual"

	StaticNote = "Offender Profile (Legacy)"
)

// Field is one question of the new form with its prefilled value, if any.
type Field struct {
	Question        domain.AssessmentQuestion `json:"question"`
	Value           any                       `json:"value"`
	Imported        bool                      `json:"is_imported"`
	SourceNote      string                    `json:"source_note,omitempty"`
	SourceSessionID string                    `json:"source_session_id,omitempty"`
}

// Prior is the completed session answers are imported from.
type Prior struct {
	SessionID string
	Date      string
	Answers   map[string]any
}

// DynamicNote is the provenance label of an answer copied from a prior session.
func DynamicNote(date string) string {
	return fmt.Sprintf("Imported from Assessment on %s", date)
}

// Applies reports whether a question belongs to tool: any of its applicable
// tools must be a substring of the tool name, so "ORAS" covers "ORAS-CST".
func Applies(q domain.AssessmentQuestion, tool string) bool {
	for _, t := range q.ApplicableTools {
		if t != "" && strings.Contains(tool, t) {
			return true
		}
	}
	return false
}

// Applicable filters bank down to the questions for tool, keeping bank order.
func Applicable(bank []domain.AssessmentQuestion, tool string) []domain.AssessmentQuestion {
	var out []domain.AssessmentQuestion
	for _, q := range bank {
		if Applies(q, tool) {
			out = append(out, q)
		}
	}
	return out
}

// Resolve prefills questions. Static questions take their value from
// static (keyed by tag); dynamic questions take the prior session's answer.
// prior may be nil.
func Resolve(questions []domain.AssessmentQuestion, static map[string]string, prior *Prior) []Field {
	out := make([]Field, 0, len(questions))
	for _, q := range questions {
		f := Field{Question: q}
		switch q.SourceType {
		case SourceStatic:
			if v, ok := static[q.Tag]; ok && v != "" {
				f.Value = v
				f.Imported = true
				f.SourceNote = StaticNote
			}
		case SourceDynamic:
			if prior == nil {
				break
			}
			if v, ok := prior.Answers[q.Tag]; ok && v != nil {
				f.Value = v
				f.Imported = true
				f.SourceNote = DynamicNote(prior.Date)
				f.SourceSessionID = prior.SessionID
			}
		}
		out = append(out, f)
	}
	return out
}
