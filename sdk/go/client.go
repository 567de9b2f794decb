package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Task is the API task model (partial).
type Task struct {
	ID                string `json:"id"`
	OffenderID        string `json:"offender_id"`
	RuleID            string `json:"rule_id"`
	Title             string `json:"title"`
	DueDate           string `json:"due_date"`
	Status            string `json:"status"`
	Priority          string `json:"priority"`
	AssignedOfficerID string `json:"assigned_officer_id"`
}

// RunResult is one (case, rule) outcome of an automation run.
type RunResult struct {
	CaseID   string `json:"case_id"`
	RuleName string `json:"rule_name"`
	Outcome  string `json:"outcome"`
	TaskID   string `json:"task_id"`
	DueDate  string `json:"due_date"`
	Error    string `json:"error"`
}

type Report struct {
	TasksCreated   int         `json:"tasks_created"`
	RulesEvaluated int         `json:"rules_evaluated"`
	CasesScanned   int         `json:"cases_scanned"`
	Errors         int         `json:"errors"`
	Results        []RunResult `json:"results"`
}

type Session struct {
	ID             string `json:"id"`
	SubjectID      string `json:"subject_id"`
	ToolName       string `json:"tool_name"`
	Date           string `json:"date"`
	Status         string `json:"status"`
	TotalScore     *int   `json:"total_score"`
	ComputedLevel  string `json:"computed_level"`
	FinalLevel     string `json:"final_level"`
	OverrideReason string `json:"override_reason"`
}

// FormField is one prefilled question of a new assessment.
type FormField struct {
	Question struct {
		Tag  string `json:"tag"`
		Text string `json:"text"`
	} `json:"question"`
	Value      any    `json:"value"`
	Imported   bool   `json:"is_imported"`
	SourceNote string `json:"source_note"`
}

type AssessmentForm struct {
	Session Session     `json:"session"`
	Fields  []FormField `json:"fields"`
}

type Score struct {
	SessionID      string         `json:"session_id"`
	Total          int            `json:"total_score"`
	Level          string         `json:"computed_level"`
	Details        map[string]int `json:"details"`
	CategoryScores map[string]int `json:"category_scores"`
}

type Document struct {
	ID           string         `json:"id"`
	TemplateKind string         `json:"template_kind"`
	SubjectID    string         `json:"subject_id"`
	AssignedTo   string         `json:"assigned_to"`
	CreatedBy    string         `json:"created_by"`
	Status       string         `json:"status"`
	CurrentStep  string         `json:"current_step"`
	IsLocked     bool           `json:"is_locked"`
	FormData     map[string]any `json:"form_data"`
}

type LogEntry struct {
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error"`
	TS         string `json:"ts"`
}

// Rule is the API automation rule model (partial).
type Rule struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TriggerField string `json:"trigger_field"`
	TaskTitle    string `json:"task_title"`
	IsActive     bool   `json:"is_active"`
}

type QuestionOption struct {
	Label string `json:"label"`
	Value any    `json:"value,omitempty"`
	Score *int   `json:"score,omitempty"`
}

type Question struct {
	Tag             string           `json:"tag"`
	Text            string           `json:"text"`
	Category        string           `json:"category,omitempty"`
	InputType       string           `json:"input_type"`
	SourceType      string           `json:"source_type,omitempty"`
	ApplicableTools []string         `json:"applicable_tools,omitempty"`
	Options         []QuestionOption `json:"options,omitempty"`
	ScoringNote     string           `json:"scoring_note,omitempty"`
}

type ScoreBand struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
}

type AssessmentType struct {
	Name          string      `json:"name"`
	ScoringMatrix []ScoreBand `json:"scoring_matrix"`
}

type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// RunAutomation triggers an automation pass.
func (c *Client) RunAutomation(ctx context.Context) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "automation/run", nil, &resp)
	return resp, err
}

// FireEvent runs the event rules for one offender.
func (c *Client) FireEvent(ctx context.Context, event, offenderID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "automation/events", map[string]any{"event": event, "offender_id": offenderID}, &resp)
	return resp, err
}

// Rules lists every automation rule.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Items []Rule `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "automation/rules", nil, &resp)
	return resp.Items, err
}

// DeleteRule removes a rule and returns it as it was.
func (c *Client) DeleteRule(ctx context.Context, ruleID string) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodDelete, "automation/rules/"+url.PathEscape(ruleID), nil, &resp)
	return resp, err
}

// Tasks lists tasks of an offender; an empty id lists all.
func (c *Client) Tasks(ctx context.Context, offenderID string) ([]Task, error) {
	endpoint := "tasks"
	if offenderID != "" {
		endpoint += "?offender_id=" + url.QueryEscape(offenderID)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// InitAssessment opens a prefilled Draft.
func (c *Client) InitAssessment(ctx context.Context, subjectID, tool string) (AssessmentForm, error) {
	var resp AssessmentForm
	err := c.do(ctx, http.MethodPost, "assessments/init", map[string]any{"subject_id": subjectID, "tool_name": tool}, &resp)
	return resp, err
}

// SaveAnswer stores one answer on a Draft.
func (c *Client) SaveAnswer(ctx context.Context, sessionID, tag string, value any) error {
	endpoint := fmt.Sprintf("assessments/%s/answers", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"tag": tag, "value": value}, nil)
}

// Score previews the score of the current answers.
func (c *Client) Score(ctx context.Context, sessionID string) (Score, error) {
	var resp Score
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("assessments/%s/score", url.PathEscape(sessionID)), nil, &resp)
	return resp, err
}

// SubmitAssessment completes a Draft. An empty level keeps the computed one.
func (c *Client) SubmitAssessment(ctx context.Context, sessionID, overrideLevel, reason string) (Session, error) {
	body := map[string]any{}
	if overrideLevel != "" {
		body["final_level"] = overrideLevel
		body["override_reason"] = reason
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("assessments/%s/submit", url.PathEscape(sessionID)), body, &resp)
	return resp, err
}

func (c *Client) Questions(ctx context.Context) ([]Question, error) {
	var resp struct {
		Items []Question `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "assessments/questions", nil, &resp)
	return resp.Items, err
}

// SaveQuestion creates or replaces a bank question keyed by tag.
func (c *Client) SaveQuestion(ctx context.Context, q Question) (Question, error) {
	var resp Question
	err := c.do(ctx, http.MethodPost, "assessments/questions", q, &resp)
	return resp, err
}

func (c *Client) AssessmentTypes(ctx context.Context) ([]AssessmentType, error) {
	var resp struct {
		Items []AssessmentType `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "assessments/types", nil, &resp)
	return resp.Items, err
}

// SaveAssessmentType creates or replaces a tool's scoring matrix.
func (c *Client) SaveAssessmentType(ctx context.Context, t AssessmentType) (AssessmentType, error) {
	var resp AssessmentType
	err := c.do(ctx, http.MethodPost, "assessments/types", t, &resp)
	return resp, err
}

// CreateTemplate stores a form template. An empty kind is inferred from the name.
func (c *Client) CreateTemplate(ctx context.Context, name, kind string) (Template, error) {
	body := map[string]any{"name": name}
	if kind != "" {
		body["kind"] = kind
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "workflows/templates", body, &resp)
	return resp, err
}

// CreateDocument starts a Draft from a template name or id.
func (c *Client) CreateDocument(ctx context.Context, template, subjectID string, formData map[string]any) (Document, error) {
	body := map[string]any{"template": template, "subject_id": subjectID}
	if formData != nil {
		body["form_data"] = formData
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, "workflows/documents", body, &resp)
	return resp, err
}

// Act applies a workflow action. targetUser may be empty.
func (c *Client) Act(ctx context.Context, documentID, action, comment, targetUser string) (Document, error) {
	body := map[string]any{"action": action}
	if comment != "" {
		body["comment"] = comment
	}
	if targetUser != "" {
		body["target_user_id"] = targetUser
	}
	var resp Document
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("workflows/documents/%s/actions", url.PathEscape(documentID)), body, &resp)
	return resp, err
}

// DocumentLog returns the audit trail of a document.
func (c *Client) DocumentLog(ctx context.Context, documentID string) ([]LogEntry, error) {
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("workflows/documents/%s/log", url.PathEscape(documentID)), nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := "/" + strings.Trim(c.BasePath, "/")
	if prefix == "/" {
		prefix = ""
	}
	return base + prefix + "/" + strings.TrimLeft(endpoint, "/")
}
