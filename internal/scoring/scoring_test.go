package scoring

import (
	"testing"

	"caseflow/internal/domain"
)

func intPtr(v int) *int { return &v }

func testBank() map[string]domain.AssessmentQuestion {
	return map[string]domain.AssessmentQuestion{
		"priors":     {Tag: "priors", InputType: "integer", Category: "Criminal History"},
		"gang_affil": {Tag: "gang_affil", InputType: "boolean", Category: "Peers"},
		"education": {Tag: "education", InputType: "select", Category: "Education", Options: []domain.QuestionOption{
			{Label: "No Diploma", Score: intPtr(5)},
			{Label: "Diploma", Score: intPtr(0)},
		}},
	}
}

var testMatrix = &domain.AssessmentType{Name: "Test-Type", ScoringMatrix: []domain.ScoreBand{
	{Label: "Low", Min: 0, Max: 5},
	{Label: "Medium", Min: 6, Max: 10},
	{Label: "High", Min: 11, Max: 99},
}}

func TestCalculateExampleScenario(t *testing.T) {
	answers := []domain.AssessmentAnswer{
		{QuestionTag: "priors", Value: "3"},
		{QuestionTag: "gang_affil", Value: true},
		{QuestionTag: "education", Value: "No Diploma"},
	}
	res := Calculate(answers, testBank(), testMatrix)
	if res.Total != 9 {
		t.Fatalf("total=%d want 9", res.Total)
	}
	if res.Level != "Medium" {
		t.Fatalf("level=%s want Medium", res.Level)
	}
	if res.PerQuestion["education"] != 5 || res.PerQuestion["priors"] != 3 || res.PerQuestion["gang_affil"] != 1 {
		t.Fatalf("unexpected details: %+v", res.PerQuestion)
	}
	if res.PerCategory["Peers"] != 1 || res.PerCategory["Education"] != 5 {
		t.Fatalf("unexpected categories: %+v", res.PerCategory)
	}
}

func TestMatrixBoundsAreInclusive(t *testing.T) {
	cases := map[int]string{0: "Low", 5: "Low", 6: "Medium", 10: "Medium", 11: "High", 99: "High", 100: "Unknown", -1: "Unknown"}
	for total, want := range cases {
		if got := Level(total, testMatrix); got != want {
			t.Fatalf("Level(%d)=%s want %s", total, got, want)
		}
	}
}

func TestOutOfBoundsIsUnknown(t *testing.T) {
	typ := &domain.AssessmentType{Name: "Narrow", ScoringMatrix: []domain.ScoreBand{{Label: "Safe", Min: 0, Max: 2}}}
	res := Calculate([]domain.AssessmentAnswer{{QuestionTag: "priors", Value: "10"}}, testBank(), typ)
	if res.Total != 10 || res.Level != LevelUnknown {
		t.Fatalf("got total=%d level=%s", res.Total, res.Level)
	}
}

func TestFallbackThresholds(t *testing.T) {
	cases := map[int]string{0: "Low", 7: "Low", 8: "Medium", 14: "Medium", 15: "High", 40: "High"}
	for total, want := range cases {
		if got := Level(total, nil); got != want {
			t.Fatalf("Level(%d, nil)=%s want %s", total, got, want)
		}
		if got := Level(total, &domain.AssessmentType{Name: "empty"}); got != want {
			t.Fatalf("Level(%d, empty)=%s want %s", total, got, want)
		}
	}
}

func TestAnswerScoreCoercion(t *testing.T) {
	bank := testBank()
	cases := []struct {
		tag   string
		value any
		want  int
	}{
		{"priors", "abc", 0},
		{"priors", float64(4), 4},
		{"priors", " 2 ", 2},
		{"gang_affil", "YES", 1},
		{"gang_affil", "1", 1},
		{"gang_affil", float64(1), 1},
		{"gang_affil", "no", 0},
		{"gang_affil", false, 0},
		{"education", "Unknown Option", 0},
	}
	for _, tc := range cases {
		if got := AnswerScore(bank[tc.tag], tc.value); got != tc.want {
			t.Fatalf("%s=%v scored %d want %d", tc.tag, tc.value, got, tc.want)
		}
	}
}

func TestOptionValueMatching(t *testing.T) {
	scale := domain.AssessmentQuestion{Tag: "scale", InputType: "scale_0_3", Options: []domain.QuestionOption{
		{Label: "0 - None", Value: 0},
		{Label: "2 - Moderate", Value: 2},
	}}
	if got := AnswerScore(scale, float64(2)); got != 2 {
		t.Fatalf("numeric value match scored %d", got)
	}
	if got := AnswerScore(scale, "2 - Moderate"); got != 2 {
		t.Fatalf("label match scored %d", got)
	}
	yesNo := domain.AssessmentQuestion{Tag: "yn", InputType: "boolean", Options: []domain.QuestionOption{
		{Label: "Yes", Value: true},
		{Label: "No", Value: false},
	}}
	if got := AnswerScore(yesNo, true); got != 1 {
		t.Fatalf("bool option scored %d", got)
	}
	if got := AnswerScore(yesNo, "No"); got != 0 {
		t.Fatalf("No scored %d", got)
	}
}

func TestUnknownTagsIgnored(t *testing.T) {
	res := Calculate([]domain.AssessmentAnswer{{QuestionTag: "ghost", Value: "5"}}, testBank(), nil)
	if res.Total != 0 || len(res.PerQuestion) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}
