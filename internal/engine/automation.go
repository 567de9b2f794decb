package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/metrics"
	"caseflow/internal/repo"
	"caseflow/internal/rules"
)

// Outcome of one (case, rule) evaluation.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeSkippedExisting Outcome = "skipped_existing"
	OutcomeNotTriggered    Outcome = "not_triggered"
	OutcomeConditionsUnmet Outcome = "conditions_unmet"
	OutcomeNoActiveEpisode Outcome = "no_active_episode"
	OutcomeError           Outcome = "error"
)

const TaskStatusPending = "Pending"

type Result struct {
	CaseID   string  `json:"case_id"`
	RuleID   string  `json:"rule_id"`
	RuleName string  `json:"rule_name"`
	Outcome  Outcome `json:"outcome"`
	TaskID   string  `json:"task_id,omitempty"`
	DueDate  string  `json:"due_date,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Report summarizes an automation pass. Per-item failures live in Results;
// they never abort the pass.
type Report struct {
	TasksCreated   int      `json:"tasks_created"`
	RulesEvaluated int      `json:"rules_evaluated"`
	CasesScanned   int      `json:"cases_scanned"`
	Errors         int      `json:"errors"`
	Results        []Result `json:"results"`
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case OutcomeCreated:
		r.TasksCreated++
	case OutcomeError:
		r.Errors++
	}
	r.Results = append(r.Results, res)
}

func (r Report) outcomes() map[string]int {
	out := map[string]int{}
	for _, res := range r.Results {
		out[string(res.Outcome)]++
	}
	return out
}

type compiledRule struct {
	rule rules.Rule
	err  error
}

// RunAutomationPass evaluates every active date rule against every case and
// creates the tasks that fire. Only loading failures are returned.
func (e Engine) RunAutomationPass(ctx context.Context) (Report, error) {
	start := time.Now()
	log := e.log(ctx)
	active, err := e.Repo.ListRules(ctx, true, "")
	if err != nil {
		return Report{}, fmt.Errorf("load rules: %w", err)
	}
	cases, err := e.Repo.ListCases(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load cases: %w", err)
	}
	compiled := e.compileDateRules(ctx, active)
	report := Report{RulesEvaluated: len(compiled), CasesScanned: len(cases)}
	today := e.today()

	workers := e.Config.Automation.Workers
	if workers <= 0 {
		workers = 1
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	jobs := make(chan domain.Case)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				for _, cr := range compiled {
					res := e.evaluate(ctx, c, cr, today)
					mu.Lock()
					report.add(res)
					mu.Unlock()
				}
			}
		}()
	}
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		jobs <- c
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		return a.RuleName < b.RuleName
	})
	if err := e.recordPass(ctx, report); err != nil {
		log.Warn("record automation pass", "error", err)
	}
	metrics.RecordAutomationPass(ctx, time.Since(start), report.outcomes(), report.TasksCreated)
	log.Info("automation pass complete",
		"cases", report.CasesScanned, "rules", report.RulesEvaluated,
		"tasks_created", report.TasksCreated, "errors", report.Errors)
	return report, nil
}

func (e Engine) compileDateRules(ctx context.Context, active []domain.AutomationRule) []compiledRule {
	var out []compiledRule
	for _, r := range active {
		if e.Config.IsEvent(r.TriggerField) {
			continue
		}
		cr, err := rules.CompileRule(r, e.Config.Automation.CatchUpDays)
		if err != nil {
			e.log(ctx).Error("automation rule does not compile", "rule", r.Name, "error", err)
			out = append(out, compiledRule{rule: rules.Rule{AutomationRule: r}, err: err})
			continue
		}
		for _, w := range cr.When.Warnings() {
			e.log(ctx).Warn("automation rule operand never matches", "rule", r.Name, "warning", w)
		}
		out = append(out, compiledRule{rule: cr})
	}
	return out
}

func (e Engine) evaluate(ctx context.Context, c domain.Case, cr compiledRule, today time.Time) (res Result) {
	res = Result{CaseID: c.Offender.ID, RuleID: cr.rule.ID, RuleName: cr.rule.Name}
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeError
			res.Error = fmt.Sprintf("panic: %v", p)
			e.log(ctx).Error("automation item panicked", "case", res.CaseID, "rule", res.RuleName, "panic", p)
		}
	}()
	if cr.err != nil {
		res.Outcome = OutcomeError
		res.Error = cr.err.Error()
		return res
	}
	fired, target := cr.rule.Trigger.Evaluate(c, today)
	if !fired {
		res.Outcome = OutcomeNotTriggered
		return res
	}
	ok, err := cr.rule.When.Match(c)
	if err != nil {
		e.log(ctx).Debug("condition not evaluable", "case", res.CaseID, "rule", res.RuleName, "error", err)
	}
	if !ok {
		res.Outcome = OutcomeConditionsUnmet
		return res
	}
	if c.Episode == nil || c.Episode.AssignedOfficerID == "" {
		e.log(ctx).Debug("rule fired without an assignable episode", "case", res.CaseID, "rule", res.RuleName)
		res.Outcome = OutcomeNoActiveEpisode
		return res
	}
	due := target.AddDate(0, 0, cr.rule.DueOffset)
	return e.createTask(ctx, c, cr.rule.AutomationRule, due, res)
}

// createTask runs the idempotent create in its own short transaction.
func (e Engine) createTask(ctx context.Context, c domain.Case, rule domain.AutomationRule, due time.Time, res Result) Result {
	fail := func(err error) Result {
		res.Outcome = OutcomeError
		res.Error = err.Error()
		e.log(ctx).Error("automation task create failed", "case", res.CaseID, "rule", res.RuleName, "error", err)
		return res
	}
	now := e.timestamp()
	episodeID := c.Episode.ID
	t := domain.Task{
		ID:                uuid.NewString(),
		EpisodeID:         &episodeID,
		OffenderID:        c.Offender.ID,
		RuleID:            rule.ID,
		Title:             rule.TaskTitle,
		Description:       rule.TaskDescription,
		DueDate:           due.Format(domain.DateLayout),
		Status:            TaskStatusPending,
		AssignedOfficerID: c.Episode.AssignedOfficerID,
		Priority:          rule.TaskPriority,
		CreatedBy:         c.Episode.AssignedOfficerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback()
	created, taskID, err := e.Repo.CreateTaskIfAbsent(ctx, tx, t)
	if err != nil {
		return fail(err)
	}
	res.TaskID = taskID
	if !created {
		res.Outcome = OutcomeSkippedExisting
		return res
	}
	if err := e.events().Append(ctx, tx, events.TaskCreated, "task", t.ID, SystemActor, events.EventPayload{
		"rule": rule.Name, "episode_id": episodeID, "offender_id": c.Offender.ID, "due_date": t.DueDate, "assigned_officer_id": t.AssignedOfficerID,
	}); err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	res.Outcome = OutcomeCreated
	res.DueDate = t.DueDate
	return res
}

func (e Engine) recordPass(ctx context.Context, report Report) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, events.AutomationPass, "automation", "", SystemActor, events.EventPayload{
		"tasks_created": report.TasksCreated, "rules_evaluated": report.RulesEvaluated,
		"cases_scanned": report.CasesScanned, "errors": report.Errors,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RunEventAutomations fires the rules bound to a named event for one
// offender. There is no date window; tasks are due relative to today.
func (e Engine) RunEventAutomations(ctx context.Context, event, offenderID, actorID string) (Report, error) {
	if !e.Config.IsEvent(event) {
		return Report{}, invalid("event", fmt.Sprintf("%q is not a declared automation event", event))
	}
	c, err := e.GetCase(ctx, offenderID)
	if err != nil {
		return Report{}, err
	}
	bound, err := e.Repo.ListRules(ctx, true, event)
	if err != nil {
		return Report{}, fmt.Errorf("load rules: %w", err)
	}
	report := Report{RulesEvaluated: len(bound), CasesScanned: 1}
	today := e.today()
	for _, r := range bound {
		res := Result{CaseID: offenderID, RuleID: r.ID, RuleName: r.Name}
		cr, err := rules.CompileEventRule(r)
		if err != nil {
			res.Outcome = OutcomeError
			res.Error = err.Error()
			report.add(res)
			continue
		}
		ok, err := cr.When.Match(c)
		if err != nil {
			e.log(ctx).Debug("condition not evaluable", "case", offenderID, "rule", r.Name, "error", err)
		}
		if !ok {
			res.Outcome = OutcomeConditionsUnmet
			report.add(res)
			continue
		}
		if c.Episode == nil || c.Episode.AssignedOfficerID == "" {
			res.Outcome = OutcomeNoActiveEpisode
			report.add(res)
			continue
		}
		report.add(e.createTask(ctx, c, r, today.AddDate(0, 0, r.DueOffset), res))
	}
	if actorID == "" {
		actorID = SystemActor
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, events.AutomationEvent, "offender", offenderID, actorID, events.EventPayload{
		"event": event, "tasks_created": report.TasksCreated,
	}); err != nil {
		return report, err
	}
	return report, tx.Commit()
}

type RuleOptions struct {
	Name             string
	TriggerField     string
	TriggerOffset    int
	TriggerDirection string
	Conditions       []domain.Condition
	TaskTitle        string
	TaskDescription  string
	TaskPriority     string
	DueOffset        int
	Active           bool
}

// SaveRule validates a rule against the field registry and upserts it by name.
func (e Engine) SaveRule(ctx context.Context, opts RuleOptions, actorID string) (domain.AutomationRule, error) {
	if opts.Name == "" {
		return domain.AutomationRule{}, invalid("name", "required")
	}
	if opts.TaskTitle == "" {
		return domain.AutomationRule{}, invalid("task_title", "required")
	}
	if opts.TriggerDirection == "" {
		opts.TriggerDirection = rules.DirectionAfter
	}
	r := domain.AutomationRule{
		ID:               uuid.NewString(),
		Name:             opts.Name,
		TriggerField:     opts.TriggerField,
		TriggerOffset:    opts.TriggerOffset,
		TriggerDirection: opts.TriggerDirection,
		Conditions:       opts.Conditions,
		TaskTitle:        opts.TaskTitle,
		TaskDescription:  opts.TaskDescription,
		TaskPriority:     opts.TaskPriority,
		DueOffset:        opts.DueOffset,
		IsActive:         opts.Active,
	}
	var err error
	if e.Config.IsEvent(r.TriggerField) {
		_, err = rules.CompileEventRule(r)
	} else {
		_, err = rules.CompileRule(r, e.Config.Automation.CatchUpDays)
	}
	if err != nil {
		return domain.AutomationRule{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertRule(ctx, tx, r); err != nil {
		return domain.AutomationRule{}, err
	}
	if err := e.events().Append(ctx, tx, events.RuleSaved, "automation_rule", r.Name, actorID, events.EventPayload{
		"trigger_field": r.TriggerField, "is_active": r.IsActive,
	}); err != nil {
		return domain.AutomationRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AutomationRule{}, err
	}
	return e.Repo.GetRuleByName(ctx, r.Name)
}

func (e Engine) ListRules(ctx context.Context) ([]domain.AutomationRule, error) {
	return e.Repo.ListRules(ctx, false, "")
}

func (e Engine) GetRule(ctx context.Context, id string) (domain.AutomationRule, error) {
	r, err := e.Repo.GetRule(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return r, notFound("rule", id)
	}
	return r, err
}

// DeleteRule removes a rule and returns it as it was. Tasks the rule already
// created are kept.
func (e Engine) DeleteRule(ctx context.Context, id, actorID string) (domain.AutomationRule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	defer tx.Rollback()
	r, err := e.Repo.GetRule(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return r, notFound("rule", id)
	}
	if err != nil {
		return r, err
	}
	if err := e.Repo.DeleteRule(ctx, tx, id); err != nil {
		return r, err
	}
	if err := e.events().Append(ctx, tx, events.RuleDeleted, "automation_rule", r.Name, actorID, events.EventPayload{
		"rule_id": r.ID, "trigger_field": r.TriggerField,
	}); err != nil {
		return r, err
	}
	return r, tx.Commit()
}
