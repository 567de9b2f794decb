package server

import (
	"encoding/json"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/lookback"
	"caseflow/internal/scoring"
)

// Request payloads

type RunEventRequest struct {
	Event      string `json:"event" example:"positive_ua"`
	OffenderID string `json:"offender_id"`
}

type SaveRuleRequest struct {
	Name             string             `json:"name"`
	TriggerField     string             `json:"trigger_field" example:"release_date"`
	TriggerOffset    int                `json:"trigger_offset"`
	TriggerDirection string             `json:"trigger_direction,omitempty" enum:"before,after"`
	Conditions       []domain.Condition `json:"conditions,omitempty"`
	TaskTitle        string             `json:"task_title"`
	TaskDescription  string             `json:"task_description,omitempty"`
	TaskPriority     string             `json:"task_priority,omitempty"`
	DueOffset        int                `json:"due_offset,omitempty"`
	IsActive         *bool              `json:"is_active,omitempty"`
}

type InitAssessmentRequest struct {
	SubjectID string `json:"subject_id"`
	ToolName  string `json:"tool_name" example:"ORAS-CST"`
}

type CreateAssessmentRequest struct {
	SubjectID string `json:"subject_id"`
	ToolName  string `json:"tool_name"`
	Date      string `json:"date,omitempty" format:"date"`
}

type SaveAnswerRequest struct {
	Tag   string `json:"tag"`
	Value any    `json:"value"`
}

type SubmitAssessmentRequest struct {
	FinalLevel     string `json:"final_level,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

type SaveQuestionRequest struct {
	Tag             string                  `json:"tag" example:"prior_felonies"`
	Text            string                  `json:"text"`
	Category        string                  `json:"category,omitempty"`
	InputType       string                  `json:"input_type" enum:"boolean,integer,select,date,text,scale_0_3"`
	SourceType      string                  `json:"source_type,omitempty" enum:"static,dynamic,manual"`
	ApplicableTools []string                `json:"applicable_tools,omitempty"`
	Options         []domain.QuestionOption `json:"options,omitempty"`
	ScoringNote     string                  `json:"scoring_note,omitempty"`
}

type SaveAssessmentTypeRequest struct {
	Name          string             `json:"name" example:"ORAS-CST"`
	ScoringMatrix []domain.ScoreBand `json:"scoring_matrix"`
}

type CreateTemplateRequest struct {
	Name string `json:"name" example:"Transfer Request"`
	Kind string `json:"kind,omitempty" enum:"transfer_request,generic" doc:"Inferred from the name when omitted"`
}

type CreateDocumentRequest struct {
	Template   string         `json:"template" doc:"Template id or name"`
	SubjectID  string         `json:"subject_id,omitempty"`
	AssignedTo string         `json:"assigned_to,omitempty"`
	FormData   map[string]any `json:"form_data,omitempty"`
}

type UpdateFormDataRequest struct {
	FormData map[string]any `json:"form_data"`
}

type TransitionRequest struct {
	Action       string `json:"action" enum:"Submit,Return,Approve,Accept,Deny"`
	Comment      string `json:"comment,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type AssessmentFormResponse struct {
	Session domain.AssessmentSession `json:"session"`
	Fields  []lookback.Field         `json:"fields"`
}

type AssessmentResponse struct {
	Session domain.AssessmentSession  `json:"session"`
	Answers []domain.AssessmentAnswer `json:"answers"`
}

type ScoreResponse struct {
	SessionID   string         `json:"session_id"`
	Total       int            `json:"total_score"`
	Level       string         `json:"computed_level"`
	PerQuestion map[string]int `json:"details"`
	PerCategory map[string]int `json:"category_scores"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type RuleList struct {
	Items []domain.AutomationRule `json:"items"`
}

type TaskList struct {
	Items []domain.Task `json:"items"`
}

type SessionList struct {
	Items []domain.AssessmentSession `json:"items"`
}

type QuestionList struct {
	Items []domain.AssessmentQuestion `json:"items"`
}

type AssessmentTypeList struct {
	Items []domain.AssessmentType `json:"items"`
}

type TemplateList struct {
	Items []domain.FormTemplate `json:"items"`
}

type DocumentList struct {
	Items []domain.WorkflowDocument `json:"items"`
}

type WorkflowLogList struct {
	Items []domain.WorkflowLogEntry `json:"items"`
}

// orEmpty keeps list payloads as [] rather than null.
func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func formResponse(f engine.AssessmentForm) AssessmentFormResponse {
	fields := f.Fields
	if fields == nil {
		fields = []lookback.Field{}
	}
	return AssessmentFormResponse{Session: f.Session, Fields: fields}
}

func scoreResponse(sessionID string, r scoring.Result) ScoreResponse {
	return ScoreResponse{
		SessionID:   sessionID,
		Total:       r.Total,
		Level:       r.Level,
		PerQuestion: r.PerQuestion,
		PerCategory: r.PerCategory,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
