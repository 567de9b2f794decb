package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

type sessionPath struct {
	ID string `path:"id"`
}

func registerAssessments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-questions",
		Method:      http.MethodGet,
		Path:        "/assessments/questions",
		Summary:     "List the question bank",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QuestionList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "assessment.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListQuestions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestionList `json:"body"`
		}{Body: QuestionList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-question",
		Method:      http.MethodPost,
		Path:        "/assessments/questions",
		Summary:     "Create or replace a question by tag",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SaveQuestionRequest `json:"body"`
	}) (*struct {
		Body domain.AssessmentQuestion `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.catalog.write")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		q, err := e.SaveQuestion(ctx, domain.AssessmentQuestion{
			Tag:             b.Tag,
			Text:            b.Text,
			Category:        b.Category,
			InputType:       b.InputType,
			SourceType:      b.SourceType,
			ApplicableTools: b.ApplicableTools,
			Options:         b.Options,
			ScoringNote:     b.ScoringNote,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssessmentQuestion `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessment-types",
		Method:      http.MethodGet,
		Path:        "/assessments/types",
		Summary:     "List assessment tools and their scoring matrices",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AssessmentTypeList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "assessment.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListAssessmentTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssessmentTypeList `json:"body"`
		}{Body: AssessmentTypeList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-assessment-type",
		Method:      http.MethodPost,
		Path:        "/assessments/types",
		Summary:     "Create or replace a tool's scoring matrix",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SaveAssessmentTypeRequest `json:"body"`
	}) (*struct {
		Body domain.AssessmentType `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.catalog.write")
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.SaveAssessmentType(ctx, domain.AssessmentType{
			Name:          input.Body.Name,
			ScoringMatrix: input.Body.ScoringMatrix,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssessmentType `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "init-assessment",
		Method:        http.MethodPost,
		Path:          "/assessments/init",
		Summary:       "Start an assessment prefilled from the case and recent history",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body InitAssessmentRequest `json:"body"`
	}) (*struct {
		Body AssessmentFormResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.write")
		if err != nil {
			return nil, handleError(err)
		}
		form, err := e.InitAssessment(ctx, input.Body.SubjectID, input.Body.ToolName, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssessmentFormResponse `json:"body"`
		}{Body: formResponse(form)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-assessment",
		Method:        http.MethodPost,
		Path:          "/assessments",
		Summary:       "Create an empty Draft assessment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateAssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.AssessmentSession `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.write")
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateAssessment(ctx, input.Body.SubjectID, input.Body.ToolName, input.Body.Date, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssessmentSession `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assessments",
		Method:      http.MethodGet,
		Path:        "/assessments",
		Summary:     "List assessment sessions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SubjectID string `query:"subject_id"`
		ToolName  string `query:"tool_name"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body SessionList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "assessment.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListAssessments(ctx, repo.SessionFilters{
			SubjectID: input.SubjectID,
			ToolName:  input.ToolName,
			Status:    input.Status,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionList `json:"body"`
		}{Body: SessionList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assessment",
		Method:      http.MethodGet,
		Path:        "/assessments/{id}",
		Summary:     "Get an assessment and its answers",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body AssessmentResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "assessment.read"); err != nil {
			return nil, handleError(err)
		}
		s, answers, err := e.GetAssessment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssessmentResponse `json:"body"`
		}{Body: AssessmentResponse{Session: s, Answers: orEmpty(answers)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-answer",
		Method:      http.MethodPost,
		Path:        "/assessments/{id}/answers",
		Summary:     "Save one answer on a Draft assessment",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SaveAnswerRequest `json:"body"`
	}) (*struct {
		Body domain.AssessmentAnswer `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.write")
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.SaveAnswer(ctx, input.ID, input.Body.Tag, input.Body.Value, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssessmentAnswer `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-score",
		Method:      http.MethodGet,
		Path:        "/assessments/{id}/score",
		Summary:     "Score current answers without saving",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body ScoreResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "assessment.read"); err != nil {
			return nil, handleError(err)
		}
		res, err := e.PreviewScore(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScoreResponse `json:"body"`
		}{Body: scoreResponse(input.ID, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-assessment",
		Method:      http.MethodPost,
		Path:        "/assessments/{id}/submit",
		Summary:     "Score, complete and propagate the risk level",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body SubmitAssessmentRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.AssessmentSession `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "assessment.write")
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.SubmitAssessment(ctx, engine.SubmitOptions{
			SessionID:      input.ID,
			FinalLevel:     input.Body.FinalLevel,
			OverrideReason: input.Body.OverrideReason,
			ActorID:        principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AssessmentSession `json:"body"`
		}{Body: s}, nil
	})
}
