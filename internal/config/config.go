package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"caseflow/internal/domain"
	"caseflow/internal/rules"
	"caseflow/internal/workflow"
)

// Config models caseflow.yml.
type Config struct {
	Automation struct {
		CatchUpDays int      `yaml:"catch_up_days"`
		Workers     int      `yaml:"workers"`
		Interval    string   `yaml:"interval"`
		Events      []string `yaml:"events"`
	} `yaml:"automation"`
	Assessment struct {
		LookbackDays int               `yaml:"lookback_days"`
		StaticFields map[string]string `yaml:"static_fields"`
	} `yaml:"assessment"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		LockTTL  string `yaml:"lock_ttl"`
		LockWait string `yaml:"lock_wait"`
	} `yaml:"redis"`
	Log struct {
		Env string `yaml:"env"`
	} `yaml:"log"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Catalog  Catalog         `yaml:"catalog"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Catalog is the rule, questionnaire and template configuration imported
// into the database.
type Catalog struct {
	Rules           []RuleConfig                `yaml:"rules"`
	AssessmentTypes []domain.AssessmentType     `yaml:"assessment_types"`
	Questions       []domain.AssessmentQuestion `yaml:"questions"`
	Templates       []TemplateConfig            `yaml:"templates"`
}

type RuleConfig struct {
	Name             string             `yaml:"name"`
	TriggerField     string             `yaml:"trigger_field"`
	TriggerOffset    int                `yaml:"trigger_offset"`
	TriggerDirection string             `yaml:"trigger_direction"`
	Conditions       []domain.Condition `yaml:"conditions"`
	TaskTitle        string             `yaml:"task_title"`
	TaskDescription  string             `yaml:"task_description"`
	TaskPriority     string             `yaml:"task_priority"`
	DueOffset        int                `yaml:"due_offset"`
	Active           *bool              `yaml:"active"`
}

type TemplateConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Rule converts the YAML form to the domain rule. Rules are active unless
// explicitly disabled.
func (r RuleConfig) Rule() domain.AutomationRule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	direction := r.TriggerDirection
	if direction == "" {
		direction = rules.DirectionAfter
	}
	return domain.AutomationRule{
		Name:             r.Name,
		TriggerField:     r.TriggerField,
		TriggerOffset:    r.TriggerOffset,
		TriggerDirection: direction,
		Conditions:       r.Conditions,
		TaskTitle:        r.TaskTitle,
		TaskDescription:  r.TaskDescription,
		TaskPriority:     r.TaskPriority,
		DueOffset:        r.DueOffset,
		IsActive:         active,
	}
}

// IsEvent reports whether name is a declared automation event rather than a
// date field.
func (c *Config) IsEvent(name string) bool {
	for _, e := range c.Automation.Events {
		if e == name {
			return true
		}
	}
	return false
}

// Interval returns the scheduler interval, defaulting to daily.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.Automation.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// LockTTL and LockWait default to 30s and 10s.
func (c *Config) LockTTL() time.Duration  { return durationOr(c.Redis.LockTTL, 30*time.Second) }
func (c *Config) LockWait() time.Duration { return durationOr(c.Redis.LockWait, 10*time.Second) }

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate ensures the config is structurally sound and that every rule
// compiles against the field registry.
func (c *Config) Validate() error {
	if c.Automation.CatchUpDays < 0 {
		return fmt.Errorf("config.automation.catch_up_days must be >= 0")
	}
	if c.Automation.Workers < 0 {
		return fmt.Errorf("config.automation.workers must be >= 0")
	}
	if c.Automation.Interval != "" {
		if d, err := time.ParseDuration(c.Automation.Interval); err != nil || d <= 0 {
			return fmt.Errorf("config.automation.interval %q is not a positive duration", c.Automation.Interval)
		}
	}
	for _, evt := range c.Automation.Events {
		if evt == "" {
			return fmt.Errorf("config.automation.events contains empty name")
		}
		if _, ok := rules.Lookup(evt); ok {
			return fmt.Errorf("automation event %s collides with a case field", evt)
		}
	}
	if c.Assessment.LookbackDays < 0 {
		return fmt.Errorf("config.assessment.lookback_days must be >= 0")
	}
	for tag, field := range c.Assessment.StaticFields {
		if _, ok := rules.Lookup(field); !ok {
			return fmt.Errorf("static field mapping %s -> %s: unknown case field", tag, field)
		}
	}
	for _, raw := range []struct{ name, v string }{{"lock_ttl", c.Redis.LockTTL}, {"lock_wait", c.Redis.LockWait}} {
		if raw.v == "" {
			continue
		}
		if _, err := time.ParseDuration(raw.v); err != nil {
			return fmt.Errorf("config.redis.%s: %w", raw.name, err)
		}
	}
	if err := c.Catalog.validate(c); err != nil {
		return err
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

func (cat Catalog) validate(c *Config) error {
	seen := map[string]bool{}
	for _, rc := range cat.Rules {
		if rc.Name == "" {
			return fmt.Errorf("catalog rule with empty name")
		}
		if seen[rc.Name] {
			return fmt.Errorf("duplicate catalog rule %s", rc.Name)
		}
		seen[rc.Name] = true
		if rc.TaskTitle == "" {
			return fmt.Errorf("rule %s: task_title is required", rc.Name)
		}
		r := rc.Rule()
		if c.IsEvent(r.TriggerField) {
			if _, err := rules.CompileEventRule(r); err != nil {
				return err
			}
			continue
		}
		if _, err := rules.CompileRule(r, c.Automation.CatchUpDays); err != nil {
			return err
		}
	}
	types := map[string]bool{}
	for _, t := range cat.AssessmentTypes {
		if t.Name == "" {
			return fmt.Errorf("assessment type with empty name")
		}
		if types[t.Name] {
			return fmt.Errorf("duplicate assessment type %s", t.Name)
		}
		types[t.Name] = true
		if err := ValidateAssessmentType(t); err != nil {
			return err
		}
	}
	tags := map[string]bool{}
	for _, q := range cat.Questions {
		if q.Tag == "" {
			return fmt.Errorf("question with empty tag")
		}
		if tags[q.Tag] {
			return fmt.Errorf("duplicate question tag %s", q.Tag)
		}
		tags[q.Tag] = true
		if err := ValidateQuestion(q); err != nil {
			return err
		}
	}
	for _, t := range cat.Templates {
		if t.Name == "" {
			return fmt.Errorf("template with empty name")
		}
		if t.Kind != "" && t.Kind != workflow.KindTransfer && t.Kind != workflow.KindGeneric {
			return fmt.Errorf("template %s: unknown kind %q", t.Name, t.Kind)
		}
	}
	return nil
}

// ValidateAssessmentType checks a scoring matrix; bands must not be inverted.
func ValidateAssessmentType(t domain.AssessmentType) error {
	if t.Name == "" {
		return fmt.Errorf("assessment type with empty name")
	}
	for _, band := range t.ScoringMatrix {
		if band.Label == "" {
			return fmt.Errorf("assessment type %s: band with empty label", t.Name)
		}
		if band.Min > band.Max {
			return fmt.Errorf("assessment type %s: band %s has min > max", t.Name, band.Label)
		}
	}
	return nil
}

// ValidateQuestion checks the input and source types of a bank question.
func ValidateQuestion(q domain.AssessmentQuestion) error {
	if q.Tag == "" {
		return fmt.Errorf("question with empty tag")
	}
	switch q.InputType {
	case "boolean", "integer", "select", "date", "text", "scale_0_3":
	default:
		return fmt.Errorf("question %s: unsupported input_type %q", q.Tag, q.InputType)
	}
	switch q.SourceType {
	case "static", "dynamic", "manual", "":
	default:
		return fmt.Errorf("question %s: unsupported source_type %q", q.Tag, q.SourceType)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with caseflow init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `automation:
  catch_up_days: 7
  workers: 1
  interval: 24h
  events: [positive_ua]

assessment:
  lookback_days: 30
  static_fields:
    dob: dob
    gender: gender
    release_date: release_date
    employment_status: employment_status

log:
  env: prod

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: [automation.run, automation.rules.read, automation.rules.write, tasks.read, assessment.read, assessment.write, assessment.catalog.write, workflow.read, workflow.write, workflow.templates.write, events.read]
    supervisor:
      description: "Reviews transfers and assessments"
      permissions: [tasks.read, assessment.read, assessment.write, workflow.read, workflow.write, events.read]
    officer:
      description: "Case officer"
      permissions: [tasks.read, assessment.read, assessment.write, workflow.read, workflow.write]

catalog:
  rules:
    - name: Home Visit Intake
      trigger_field: release_date
      trigger_offset: 2
      trigger_direction: after
      task_title: Home Visit Intake
      task_description: "Mandatory intake at residence. Verify address and living conditions."
      task_priority: High
      due_offset: 0
    - name: 45-Day Risk Review
      trigger_field: release_date
      trigger_offset: 45
      trigger_direction: after
      conditions:
        - {field: risk_level, operator: equals, value: High}
      task_title: 45-Day Risk Assessment Review
      task_description: "Mandatory risk assessment review for High risk offender."
      task_priority: High
      due_offset: 7
    - name: CSED Closeout
      trigger_field: csed_date
      trigger_offset: 0
      trigger_direction: after
      task_title: Complete Closeout
      task_description: "Supervision expiration. Complete closeout paperwork."
      task_priority: Normal
      due_offset: 5
    - name: Positive UA Follow-up
      trigger_field: positive_ua
      task_title: Positive UA Follow-up
      task_description: "Review positive drug screen and update the case plan."
      task_priority: High
      due_offset: 2

  assessment_types:
    - name: ORAS-CST
      scoring_matrix:
        - {label: Low, min: 0, max: 14}
        - {label: Moderate, min: 15, max: 23}
        - {label: High, min: 24, max: 99}
    - name: ORAS-CSST
      scoring_matrix:
        - {label: Low, min: 0, max: 2}
        - {label: Moderate/High, min: 3, max: 4}

  questions:
    - tag: dob
      text: Date of birth
      input_type: date
      source_type: static
      applicable_tools: [ORAS]
    - tag: gender
      text: Gender
      input_type: text
      source_type: static
      applicable_tools: [ORAS]
    - tag: prior_felonies
      text: Number of prior adult felony convictions
      category: Criminal History
      input_type: integer
      source_type: dynamic
      applicable_tools: [ORAS-CST, ORAS-CSST]
    - tag: arrest_under_18
      text: Most serious arrest under age 18
      category: Criminal History
      input_type: boolean
      source_type: dynamic
      applicable_tools: [ORAS-CST]
      options:
        - {label: "Yes", value: true}
        - {label: "No", value: false}
    - tag: education
      text: Highest education level
      category: Education, Employment & Finances
      input_type: select
      source_type: dynamic
      applicable_tools: [ORAS-CST]
      options:
        - {label: "High School Graduate/GED or Higher", score: 0}
        - {label: "Less than High School/GED", score: 1}
    - tag: employed
      text: Currently employed?
      category: Education, Employment & Finances
      input_type: select
      source_type: manual
      applicable_tools: [ORAS]
      options:
        - {label: "Yes", score: 0}
        - {label: "No", score: 1}

  templates:
    - {name: Transfer Request, kind: transfer_request}
    - {name: Home Visit Report, kind: generic}
`
