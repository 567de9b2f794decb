package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

type documentPath struct {
	ID string `path:"id"`
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/workflows/templates",
		Summary:     "List form templates",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TemplateList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "workflow.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateList `json:"body"`
		}{Body: TemplateList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/workflows/templates",
		Summary:       "Create a form template or change its kind",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.FormTemplate `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "workflow.templates.write")
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTemplate(ctx, engine.TemplateOptions{Name: input.Body.Name, Kind: input.Body.Kind}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormTemplate `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/workflows/documents",
		Summary:       "Start a Draft document from a template",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowDocument `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "workflow.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.CreateDocument(ctx, engine.DocumentOptions{
			Template:   input.Body.Template,
			SubjectID:  input.Body.SubjectID,
			AssignedTo: input.Body.AssignedTo,
			FormData:   input.Body.FormData,
			ActorID:    principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/workflows/documents",
		Summary:     "List workflow documents",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AssignedTo string `query:"assigned_to"`
		CreatedBy  string `query:"created_by"`
		SubjectID  string `query:"subject_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body DocumentList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "workflow.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListDocuments(ctx, repo.DocumentFilters{
			AssignedTo: input.AssignedTo,
			CreatedBy:  input.CreatedBy,
			SubjectID:  input.SubjectID,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentList `json:"body"`
		}{Body: DocumentList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/workflows/documents/{id}",
		Summary:     "Get a workflow document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body domain.WorkflowDocument `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "workflow.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/workflows/documents/{id}",
		Summary:     "Replace the form data of an unlocked document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateFormDataRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowDocument `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "workflow.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.UpdateFormData(ctx, input.ID, input.Body.FormData, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-document",
		Method:      http.MethodPost,
		Path:        "/workflows/documents/{id}/actions",
		Summary:     "Apply a workflow action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowDocument `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "workflow.write")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.TransitionWorkflow(ctx, engine.TransitionOptions{
			DocumentID: input.ID,
			Action:     input.Body.Action,
			ActorID:    principal.ActorID,
			Comment:    input.Body.Comment,
			TargetUser: input.Body.TargetUserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-log",
		Method:      http.MethodGet,
		Path:        "/workflows/documents/{id}/log",
		Summary:     "Audit trail of a document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body WorkflowLogList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "workflow.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListWorkflowLog(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowLogList `json:"body"`
		}{Body: WorkflowLogList{Items: orEmpty(list)}}, nil
	})
}
