package domain

// DateLayout is the calendar-date format used for every date column.
const DateLayout = "2006-01-02"

type Officer struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	BadgeNumber  string  `json:"badge_number"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Location     string  `json:"location,omitempty"`
}

type Offender struct {
	ID               string `json:"id"`
	BadgeID          string `json:"badge_id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DOB              string `json:"dob,omitempty" format:"date"`
	Gender           string `json:"gender,omitempty"`
	ReleaseDate      string `json:"release_date,omitempty" format:"date"`
	CSEDDate         string `json:"csed_date,omitempty" format:"date"`
	EmploymentStatus string `json:"employment_status,omitempty"`
	SpecialFlags     string `json:"special_flags,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

type Episode struct {
	ID                string `json:"id"`
	OffenderID        string `json:"offender_id"`
	AssignedOfficerID string `json:"assigned_officer_id,omitempty"`
	StartDate         string `json:"start_date" format:"date"`
	EndDate           string `json:"end_date,omitempty" format:"date"`
	Status            string `json:"status" enum:"Active,Closed,Pending"`
	RiskLevelAtStart  string `json:"risk_level_at_start"`
	CurrentRiskLevel  string `json:"current_risk_level,omitempty"`
	Version           int64  `json:"version"`
}

// Case is an offender plus its active supervision episode, if any.
type Case struct {
	Offender Offender `json:"offender"`
	Episode  *Episode `json:"episode,omitempty"`
}

type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
}

type AutomationRule struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	TriggerField     string      `json:"trigger_field"`
	TriggerOffset    int         `json:"trigger_offset"`
	TriggerDirection string      `json:"trigger_direction" enum:"before,after"`
	Conditions       []Condition `json:"conditions"`
	TaskTitle        string      `json:"task_title"`
	TaskDescription  string      `json:"task_description,omitempty"`
	TaskPriority     string      `json:"task_priority,omitempty"`
	DueOffset        int         `json:"due_offset"`
	IsActive         bool        `json:"is_active"`
}

type Task struct {
	ID                string  `json:"id"`
	EpisodeID         *string `json:"episode_id,omitempty"`
	OffenderID        string  `json:"offender_id,omitempty"`
	RuleID            string  `json:"rule_id,omitempty"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	DueDate           string  `json:"due_date" format:"date"`
	Status            string  `json:"status"`
	AssignedOfficerID string  `json:"assigned_officer_id"`
	Priority          string  `json:"priority,omitempty"`
	CreatedBy         string  `json:"created_by"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type QuestionOption struct {
	Label string `json:"label" yaml:"label"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	Score *int   `json:"score,omitempty" yaml:"score,omitempty"`
}

type AssessmentQuestion struct {
	Tag             string           `json:"tag" yaml:"tag"`
	Text            string           `json:"text" yaml:"text"`
	Category        string           `json:"category,omitempty" yaml:"category"`
	InputType       string           `json:"input_type" yaml:"input_type" enum:"boolean,integer,select,date,text,scale_0_3"`
	SourceType      string           `json:"source_type" yaml:"source_type" enum:"static,dynamic,manual"`
	ApplicableTools []string         `json:"applicable_tools" yaml:"applicable_tools"`
	Options         []QuestionOption `json:"options,omitempty" yaml:"options"`
	ScoringNote     string           `json:"scoring_note,omitempty" yaml:"scoring_note"`
}

type ScoreBand struct {
	Label string `json:"label" yaml:"label"`
	Min   int    `json:"min" yaml:"min"`
	Max   int    `json:"max" yaml:"max"`
}

type AssessmentType struct {
	Name          string      `json:"name" yaml:"name"`
	ScoringMatrix []ScoreBand `json:"scoring_matrix" yaml:"scoring_matrix"`
}

type AssessmentSession struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	ToolName       string         `json:"tool_name"`
	Date           string         `json:"date" format:"date"`
	Status         string         `json:"status" enum:"Draft,Completed"`
	TotalScore     *int           `json:"total_score,omitempty"`
	ComputedLevel  string         `json:"computed_level,omitempty"`
	FinalLevel     string         `json:"final_level,omitempty"`
	OverrideReason string         `json:"override_reason,omitempty"`
	Details        map[string]int `json:"details,omitempty"`
	CategoryScores map[string]int `json:"category_scores,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type AssessmentAnswer struct {
	SessionID       string  `json:"session_id"`
	QuestionTag     string  `json:"question_tag"`
	Value           any     `json:"value"`
	IsImported      bool    `json:"is_imported"`
	SourceSessionID *string `json:"source_session_id,omitempty"`
}

type FormTemplate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind" enum:"transfer_request,generic"`
}

type WorkflowDocument struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id"`
	TemplateKind string         `json:"template_kind"`
	SubjectID    string         `json:"subject_id,omitempty"`
	AssignedTo   string         `json:"assigned_to"`
	CreatedBy    string         `json:"created_by"`
	Status       string         `json:"status"`
	CurrentStep  string         `json:"current_step"`
	IsLocked     bool           `json:"is_locked"`
	FormData     map[string]any `json:"form_data,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type WorkflowLogEntry struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	Comment    string `json:"comment,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status,omitempty"`
	Outcome    string `json:"outcome" enum:"applied,rejected"`
	Error      string `json:"error,omitempty"`
	TS         string `json:"ts" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
