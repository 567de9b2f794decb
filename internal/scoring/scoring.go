package scoring

import (
	"math"
	"strconv"
	"strings"

	"caseflow/internal/domain"
)

const (
	LevelLow     = "Low"
	LevelMedium  = "Medium"
	LevelHigh    = "High"
	LevelUnknown = "Unknown"

	defaultCategory = "General"
)

// Result is the outcome of scoring one answer set.
type Result struct {
	Total       int            `json:"total_score"`
	Level       string         `json:"risk_level"`
	PerQuestion map[string]int `json:"details"`
	PerCategory map[string]int `json:"category_scores"`
}

// Calculate scores answers against the question bank and maps the total
// through typ's scoring matrix. Answers for unknown tags are ignored.
func Calculate(answers []domain.AssessmentAnswer, bank map[string]domain.AssessmentQuestion, typ *domain.AssessmentType) Result {
	res := Result{
		PerQuestion: map[string]int{},
		PerCategory: map[string]int{},
	}
	for _, ans := range answers {
		q, ok := bank[ans.QuestionTag]
		if !ok {
			continue
		}
		pts := AnswerScore(q, ans.Value)
		res.Total += pts
		res.PerQuestion[ans.QuestionTag] = pts
		cat := q.Category
		if cat == "" {
			cat = defaultCategory
		}
		res.PerCategory[cat] += pts
	}
	res.Level = Level(res.Total, typ)
	return res
}

// AnswerScore returns the points one answer contributes.
func AnswerScore(q domain.AssessmentQuestion, value any) int {
	if len(q.Options) > 0 {
		opt, ok := matchOption(q.Options, value)
		if !ok {
			return 0
		}
		if opt.Score != nil {
			return *opt.Score
		}
		if n, ok := integral(opt.Value); ok {
			return n
		}
		return 0
	}
	switch q.InputType {
	case "integer":
		return toInt(value)
	case "boolean":
		if truthy(value) {
			return 1
		}
	}
	return 0
}

// Level maps total through the matrix. The first inclusive band wins; a
// configured matrix with no matching band yields Unknown. Without a matrix
// fixed thresholds apply.
func Level(total int, typ *domain.AssessmentType) string {
	if typ != nil && len(typ.ScoringMatrix) > 0 {
		for _, band := range typ.ScoringMatrix {
			if band.Min <= total && total <= band.Max {
				if band.Label == "" {
					return LevelUnknown
				}
				return band.Label
			}
		}
		return LevelUnknown
	}
	switch {
	case total >= 15:
		return LevelHigh
	case total >= 8:
		return LevelMedium
	default:
		return LevelLow
	}
}

func matchOption(opts []domain.QuestionOption, value any) (domain.QuestionOption, bool) {
	for _, opt := range opts {
		if s, ok := value.(string); ok && s == opt.Label {
			return opt, true
		}
		if opt.Value != nil && sameValue(opt.Value, value) {
			return opt, true
		}
	}
	return domain.QuestionOption{}, false
}

func sameValue(a, b any) bool {
	if af, ok := number(a); ok {
		bf, ok := number(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// integral treats booleans as 0/1, matching option values like Yes=true.
func integral(v any) (int, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func toInt(v any) int {
	switch n := v.(type) {
	case bool:
		if n {
			return 1
		}
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}

func truthy(v any) bool {
	var s string
	switch n := v.(type) {
	case bool:
		return n
	case string:
		s = n
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		s = strconv.Itoa(n)
	default:
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
