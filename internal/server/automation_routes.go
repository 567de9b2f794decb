package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

func registerAutomation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-automation",
		Method:      http.MethodPost,
		Path:        "/automation/run",
		Summary:     "Run the automation pass now",
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Report `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "automation.run"); err != nil {
			return nil, handleError(err)
		}
		report, err := e.RunAutomationPass(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		report.Results = orEmpty(report.Results)
		return &struct {
			Body engine.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-event-automation",
		Method:      http.MethodPost,
		Path:        "/automation/events",
		Summary:     "Fire event rules for one offender",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RunEventRequest `json:"body"`
	}) (*struct {
		Body engine.Report `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "automation.run")
		if err != nil {
			return nil, handleError(err)
		}
		report, err := e.RunEventAutomations(ctx, input.Body.Event, input.Body.OffenderID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		report.Results = orEmpty(report.Results)
		return &struct {
			Body engine.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/automation/rules",
		Summary:     "List automation rules",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RuleList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "automation.rules.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleList `json:"body"`
		}{Body: RuleList{Items: orEmpty(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-rule",
		Method:        http.MethodPost,
		Path:          "/automation/rules",
		Summary:       "Create or replace a rule by name",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SaveRuleRequest `json:"body"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "automation.rules.write")
		if err != nil {
			return nil, handleError(err)
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		rule, err := e.SaveRule(ctx, engine.RuleOptions{
			Name:             input.Body.Name,
			TriggerField:     input.Body.TriggerField,
			TriggerOffset:    input.Body.TriggerOffset,
			TriggerDirection: input.Body.TriggerDirection,
			Conditions:       input.Body.Conditions,
			TaskTitle:        input.Body.TaskTitle,
			TaskDescription:  input.Body.TaskDescription,
			TaskPriority:     input.Body.TaskPriority,
			DueOffset:        input.Body.DueOffset,
			Active:           active,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/automation/rules/{id}",
		Summary:     "Get a rule",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "automation.rules.read"); err != nil {
			return nil, handleError(err)
		}
		rule, err := e.GetRule(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/automation/rules/{id}",
		Summary:     "Delete a rule; its tasks are kept",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "automation.rules.write")
		if err != nil {
			return nil, handleError(err)
		}
		rule, err := e.DeleteRule(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EpisodeID  string `query:"episode_id"`
		OffenderID string `query:"offender_id"`
		AssigneeID string `query:"assignee_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskList `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "tasks.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			EpisodeID:  input.EpisodeID,
			OffenderID: input.OffenderID,
			AssigneeID: input.AssigneeID,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskList `json:"body"`
		}{Body: TaskList{Items: orEmpty(list)}}, nil
	})
}
