package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/logger"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// Today in every engine test is 2024-03-15.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }
	eng.Log = logger.Discard()
	ctx := context.Background()
	if _, err := eng.ImportCatalog(ctx, cfg, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	for _, o := range []engine.OfficerOptions{
		{ID: "off-sup", UserID: "sup-user", FirstName: "Sam"},
		{ID: "off-a", UserID: "officer-a", SupervisorID: "off-sup", FirstName: "Ann"},
		{ID: "off-b", UserID: "officer-b", FirstName: "Bo"},
	} {
		if _, err := eng.CreateOfficer(ctx, o, "tester"); err != nil {
			t.Fatalf("create officer %s: %v", o.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) addCase(t *testing.T, id, release, risk string, withEpisode bool) domain.Case {
	t.Helper()
	opts := engine.CaseOptions{
		Offender: domain.Offender{ID: id, BadgeID: "B-" + id, DOB: "1990-05-01", Gender: "M", ReleaseDate: release},
	}
	if withEpisode {
		opts.EpisodeStart = release
		opts.OfficerID = "off-a"
		opts.RiskLevelAtStart = risk
	}
	c, err := env.Engine.CreateCase(env.Ctx, opts, "tester")
	if err != nil {
		t.Fatalf("create case %s: %v", id, err)
	}
	return c
}

func resultFor(t *testing.T, r engine.Report, caseID, rule string) engine.Result {
	t.Helper()
	for _, res := range r.Results {
		if res.CaseID == caseID && res.RuleName == rule {
			return res
		}
	}
	t.Fatalf("no result for case %s rule %s in %+v", caseID, rule, r.Results)
	return engine.Result{}
}

func TestCatalogImportIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportCatalog(env.Ctx, env.Engine.Config, "tester"); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	rules, err := env.Engine.ListRules(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 4 {
		t.Fatalf("expected 4 rules after reimport, got %d", len(rules))
	}
}

func TestAutomationPassCreatesTaskOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2024-03-13", "Low", true)

	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if report.RulesEvaluated != 3 || report.CasesScanned != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if report.TasksCreated != 1 || report.Errors != 0 {
		t.Fatalf("expected one task and no errors, got %+v", report)
	}
	res := resultFor(t, report, "o1", "Home Visit Intake")
	if res.Outcome != engine.OutcomeCreated || res.DueDate != "2024-03-15" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := resultFor(t, report, "o1", "CSED Closeout").Outcome; got != engine.OutcomeNotTriggered {
		t.Fatalf("missing csed_date should not trigger, got %s", got)
	}
	task, err := env.Engine.Repo.GetTask(env.Ctx, res.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != "Pending" || task.AssignedOfficerID != "off-a" || task.CreatedBy != "off-a" || task.Priority != "High" {
		t.Fatalf("unexpected task %+v", task)
	}

	again, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again.TasksCreated != 0 {
		t.Fatalf("second pass must not create tasks, got %d", again.TasksCreated)
	}
	if got := resultFor(t, again, "o1", "Home Visit Intake"); got.Outcome != engine.OutcomeSkippedExisting || got.TaskID != res.TaskID {
		t.Fatalf("expected skipped_existing on %s, got %+v", res.TaskID, got)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{OffenderID: "o1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestAutomationCatchUpWindow(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "edge", "2024-03-06", "Low", true) // target 03-08 = today-7
	env.addCase(t, "late", "2024-03-05", "Low", true) // target 03-07 = today-8
	env.addCase(t, "future", "2024-03-14", "Low", true)

	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, "edge", "Home Visit Intake"); got.Outcome != engine.OutcomeCreated || got.DueDate != "2024-03-08" {
		t.Fatalf("today-7 must fire with due on target date, got %+v", got)
	}
	if got := resultFor(t, report, "late", "Home Visit Intake").Outcome; got != engine.OutcomeNotTriggered {
		t.Fatalf("today-8 must not fire, got %s", got)
	}
	if got := resultFor(t, report, "future", "Home Visit Intake").Outcome; got != engine.OutcomeNotTriggered {
		t.Fatalf("future target must not fire, got %s", got)
	}
}

func TestAutomationConditionsAndDueOffset(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "high", "2024-01-30", "High", true) // +45 = 03-15
	env.addCase(t, "low", "2024-01-30", "Low", true)

	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, "high", "45-Day Risk Review"); got.Outcome != engine.OutcomeCreated || got.DueDate != "2024-03-22" {
		t.Fatalf("expected task due 2024-03-22, got %+v", got)
	}
	if got := resultFor(t, report, "low", "45-Day Risk Review").Outcome; got != engine.OutcomeConditionsUnmet {
		t.Fatalf("expected conditions_unmet, got %s", got)
	}
}

func TestAutomationSkipsCasesWithoutEpisode(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2024-03-13", "", false)
	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, "o1", "Home Visit Intake").Outcome; got != engine.OutcomeNoActiveEpisode {
		t.Fatalf("expected no_active_episode, got %s", got)
	}
	if report.TasksCreated != 0 {
		t.Fatalf("no task without an assignee, got %d", report.TasksCreated)
	}
}

func TestAutomationBrokenRuleDoesNotBlockPass(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2024-03-13", "Low", true)
	env.addCase(t, "o2", "2024-03-13", "Low", true)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.UpsertRule(env.Ctx, tx, domain.AutomationRule{
		ID: "broken", Name: "Broken", TriggerField: "release_date", TriggerOffset: 2, TriggerDirection: "after",
		Conditions: []domain.Condition{{Field: "shoe_size", Operator: "equals", Value: "9"}},
		TaskTitle:  "Never", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatalf("pass must not fail on a bad rule: %v", err)
	}
	if report.Errors != 2 {
		t.Fatalf("expected one error per case, got %d", report.Errors)
	}
	if got := resultFor(t, report, "o2", "Broken"); got.Outcome != engine.OutcomeError || got.Error == "" {
		t.Fatalf("expected error result, got %+v", got)
	}
	if report.TasksCreated != 2 {
		t.Fatalf("other rules must still run, created %d", report.TasksCreated)
	}
}

func TestAutomationWorkersProduceSameReport(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		env.addCase(t, id, "2024-03-13", "Low", true)
	}
	env.Engine.Config.Automation.Workers = 3
	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.TasksCreated != 5 || len(report.Results) != 15 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Results[0].CaseID != "a" || report.Results[14].CaseID != "e" {
		t.Fatalf("results must be ordered by case")
	}
}

func TestEventAutomation(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	report, err := env.Engine.RunEventAutomations(env.Ctx, "positive_ua", "o1", "officer-a")
	if err != nil {
		t.Fatalf("event automation: %v", err)
	}
	if report.TasksCreated != 1 || report.Results[0].DueDate != "2024-03-17" {
		t.Fatalf("expected task due today+2, got %+v", report)
	}
	again, err := env.Engine.RunEventAutomations(env.Ctx, "positive_ua", "o1", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	if again.TasksCreated != 0 || again.Results[0].Outcome != engine.OutcomeSkippedExisting {
		t.Fatalf("event tasks are idempotent too, got %+v", again)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.RunEventAutomations(env.Ctx, "release_date", "o1", "officer-a"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for undeclared event, got %v", err)
	}
	if _, err := env.Engine.RunEventAutomations(env.Ctx, "positive_ua", "nope", "officer-a"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventAutomationLogsUnevaluableCondition(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.Engine.Log = logger.NewWriter(&buf, "dev")
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	if _, err := env.Engine.SaveRule(env.Ctx, engine.RuleOptions{
		Name: "Badge recheck", TriggerField: "positive_ua", TaskTitle: "Recheck badge",
		Conditions: []domain.Condition{{Field: "badge_id", Operator: "greater_than", Value: "many"}}, Active: true,
	}, "tester"); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	report, err := env.Engine.RunEventAutomations(env.Ctx, "positive_ua", "o1", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, "o1", "Badge recheck").Outcome; got != engine.OutcomeConditionsUnmet {
		t.Fatalf("expected conditions_unmet, got %s", got)
	}
	out := buf.String()
	if !strings.Contains(out, "condition not evaluable") || !strings.Contains(out, "Badge recheck") {
		t.Fatalf("expected a debug record for the malformed operand, got %s", out)
	}
}

func TestSaveRuleRejectsUnknownField(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SaveRule(env.Ctx, engine.RuleOptions{
		Name: "bad", TriggerField: "parole_date", TaskTitle: "x", Active: true,
	}, "tester")
	if err == nil {
		t.Fatalf("expected unknown trigger field error")
	}
	rule, err := env.Engine.SaveRule(env.Ctx, engine.RuleOptions{
		Name: "Employment check", TriggerField: "start_date", TriggerOffset: 30, TaskTitle: "Verify employment",
		Conditions: []domain.Condition{{Field: "employment_status", Operator: "is_empty"}}, Active: true,
	}, "tester")
	if err != nil {
		t.Fatalf("save rule: %v", err)
	}
	if rule.ID == "" || rule.TriggerDirection != "after" {
		t.Fatalf("unexpected rule %+v", rule)
	}
}

func TestDeleteRuleKeepsItsTasks(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2024-03-13", "Low", true)
	report, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	res := resultFor(t, report, "o1", "Home Visit Intake")
	if res.Outcome != engine.OutcomeCreated {
		t.Fatalf("expected a task, got %+v", res)
	}

	deleted, err := env.Engine.DeleteRule(env.Ctx, res.RuleID, "tester")
	if err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if deleted.Name != "Home Visit Intake" {
		t.Fatalf("expected the deleted rule back, got %+v", deleted)
	}
	if _, err := env.Engine.GetRule(env.Ctx, res.RuleID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected rule gone, got %v", err)
	}
	if _, err := env.Engine.DeleteRule(env.Ctx, res.RuleID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	task, err := env.Engine.Repo.GetTask(env.Ctx, res.TaskID)
	if err != nil {
		t.Fatalf("task must survive its rule: %v", err)
	}
	if task.RuleID != "" {
		t.Fatalf("expected rule reference cleared, got %q", task.RuleID)
	}
	again, err := env.Engine.RunAutomationPass(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.RulesEvaluated != 2 {
		t.Fatalf("expected the deleted rule to drop out of the pass, got %+v", again)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "automation.rule_deleted"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].EntityID != "Home Visit Intake" || evts[0].ActorID != "tester" {
		t.Fatalf("expected one rule_deleted event, got %+v", evts)
	}
}

func completedSession(t *testing.T, env testEnv, subject, tool, date string, answers map[string]any) domain.AssessmentSession {
	t.Helper()
	s, err := env.Engine.CreateAssessment(env.Ctx, subject, tool, date, "officer-a")
	if err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	for tag, v := range answers {
		if _, err := env.Engine.SaveAnswer(env.Ctx, s.ID, tag, v, "officer-a"); err != nil {
			t.Fatalf("save answer %s: %v", tag, err)
		}
	}
	done, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: s.ID, ActorID: "officer-a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return done
}

func TestInitAssessmentLooksBackThirtyDays(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	prior := completedSession(t, env, "o1", "ORAS-CST", "2024-02-14", map[string]any{"prior_felonies": 3, "education": "Less than High School/GED"})

	form, err := env.Engine.InitAssessment(env.Ctx, "o1", "ORAS-CST", "officer-a")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if form.Session.Status != engine.SessionDraft || form.Session.Date != "2024-03-15" {
		t.Fatalf("unexpected session %+v", form.Session)
	}
	byTag := map[string]int{}
	for i, f := range form.Fields {
		byTag[f.Question.Tag] = i
	}
	if _, ok := byTag["employed"]; !ok {
		t.Fatalf("ORAS questions apply to ORAS-CST")
	}
	felonies := form.Fields[byTag["prior_felonies"]]
	if !felonies.Imported || felonies.SourceSessionID != prior.ID || felonies.SourceNote != "Imported from Assessment on 2024-02-14" {
		t.Fatalf("expected dynamic import, got %+v", felonies)
	}
	dob := form.Fields[byTag["dob"]]
	if !dob.Imported || dob.Value != "1990-05-01" || dob.SourceNote != "Offender Profile (Legacy)" {
		t.Fatalf("expected static import, got %+v", dob)
	}

	_, answers, err := env.Engine.GetAssessment(env.Ctx, form.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range answers {
		if a.QuestionTag == "prior_felonies" {
			found = true
			if !a.IsImported || a.SourceSessionID == nil || *a.SourceSessionID != prior.ID || a.Value != float64(3) {
				t.Fatalf("imported answer not persisted with provenance: %+v", a)
			}
		}
	}
	if !found {
		t.Fatalf("imported answer missing")
	}

	saved, err := env.Engine.SaveAnswer(env.Ctx, form.Session.ID, "prior_felonies", 4, "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	if saved.IsImported || saved.SourceSessionID != nil {
		t.Fatalf("user answer must drop provenance: %+v", saved)
	}
}

func TestInitAssessmentIgnoresDay31AndDrafts(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	completedSession(t, env, "o1", "ORAS-CST", "2024-02-13", map[string]any{"prior_felonies": 3})
	draft, err := env.Engine.CreateAssessment(env.Ctx, "o1", "ORAS-CST", "2024-03-10", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveAnswer(env.Ctx, draft.ID, "prior_felonies", 5, "officer-a"); err != nil {
		t.Fatal(err)
	}
	form, err := env.Engine.InitAssessment(env.Ctx, "o1", "ORAS-CST", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range form.Fields {
		if f.Question.Tag == "prior_felonies" && f.Imported {
			t.Fatalf("day 31 and draft sessions must not be imported: %+v", f)
		}
	}
	if _, err := env.Engine.InitAssessment(env.Ctx, "ghost", "ORAS-CST", "officer-a"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown subject, got %v", err)
	}
}

func TestSubmitAssessmentPropagatesLevel(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	s, err := env.Engine.CreateAssessment(env.Ctx, "o1", "ORAS-CSST", "", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveAnswer(env.Ctx, s.ID, "prior_felonies", 2, "officer-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveAnswer(env.Ctx, s.ID, "employed", "No", "officer-a"); err != nil {
		t.Fatal(err)
	}
	preview, err := env.Engine.PreviewScore(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if preview.Total != 3 || preview.Level != "Moderate/High" {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if got, _, _ := env.Engine.GetAssessment(env.Ctx, s.ID); got.Status != engine.SessionDraft {
		t.Fatalf("preview must not write, status %s", got.Status)
	}

	done, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: s.ID, ActorID: "officer-a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != engine.SessionCompleted || *done.TotalScore != 3 || done.FinalLevel != "Moderate/High" {
		t.Fatalf("unexpected session %+v", done)
	}
	if done.CategoryScores["Criminal History"] != 2 || done.Details["employed"] != 1 {
		t.Fatalf("unexpected breakdown %+v %+v", done.CategoryScores, done.Details)
	}
	c, err := env.Engine.GetCase(env.Ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Episode.CurrentRiskLevel != "Moderate/High" || c.Episode.Version != 2 {
		t.Fatalf("episode not updated: %+v", c.Episode)
	}

	if _, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: s.ID, ActorID: "officer-a"}); !errors.Is(err, engine.ErrSessionCompleted) {
		t.Fatalf("resubmit: expected ErrSessionCompleted, got %v", err)
	}
	if _, err := env.Engine.SaveAnswer(env.Ctx, s.ID, "employed", "Yes", "officer-a"); !errors.Is(err, engine.ErrSessionCompleted) {
		t.Fatalf("answer after submit: expected ErrSessionCompleted, got %v", err)
	}
	if _, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: "nope"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmitOverrideWins(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	s, err := env.Engine.CreateAssessment(env.Ctx, "o1", "ORAS-CST", "", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{
		SessionID: s.ID, FinalLevel: "High", OverrideReason: "recent violent incident", ActorID: "sup-user",
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.ComputedLevel != "Low" || done.FinalLevel != "High" || done.OverrideReason != "recent violent incident" {
		t.Fatalf("unexpected override result %+v", done)
	}
	c, _ := env.Engine.GetCase(env.Ctx, "o1")
	if c.Episode.CurrentRiskLevel != "High" {
		t.Fatalf("override must reach the episode, got %s", c.Episode.CurrentRiskLevel)
	}
}

func TestSubmitWithoutEpisodeCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "", false)
	s, err := env.Engine.CreateAssessment(env.Ctx, "o1", "ORAS-CST", "", "officer-a")
	if err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: s.ID, ActorID: "officer-a"})
	if err != nil || done.Status != engine.SessionCompleted {
		t.Fatalf("expected completion without episode, got %+v %v", done, err)
	}
}

func TestConcurrentSubmitsSerializePerSubject(t *testing.T) {
	env := newTestEnv(t)
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	var ids []string
	for i := 0; i < 4; i++ {
		s, err := env.Engine.CreateAssessment(env.Ctx, "o1", "ORAS-CST", "", "officer-a")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: id, ActorID: "officer-a"})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	c, _ := env.Engine.GetCase(env.Ctx, "o1")
	if c.Episode.Version != int64(1+len(ids)) {
		t.Fatalf("expected every submit to bump the version once, got %d", c.Episode.Version)
	}
}

func TestSubmitsForDifferentSubjectsRunInParallel(t *testing.T) {
	env := newTestEnv(t)
	const subjects = 20
	var ids []string
	for i := 0; i < subjects; i++ {
		id := fmt.Sprintf("o%02d", i)
		env.addCase(t, id, "2023-01-01", "Low", true)
		s, err := env.Engine.CreateAssessment(env.Ctx, id, "ORAS-CST", "", "officer-a")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := env.Engine.SubmitAssessment(env.Ctx, engine.SubmitOptions{SessionID: id, ActorID: "officer-a"})
			errs <- err
		}(id)
	}
	close(start)
	wg.Wait()
	close(errs)
	failed := 0
	var first error
	for err := range errs {
		if err != nil {
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if failed > 0 {
		t.Fatalf("%d/%d submits failed, first: %v", failed, subjects, first)
	}
	for _, id := range ids {
		s, _, err := env.Engine.GetAssessment(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if s.Status != engine.SessionCompleted {
			t.Fatalf("session %s still %s", id, s.Status)
		}
	}
}

func TestStaleEpisodeVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := env.addCase(t, "o1", "2023-01-01", "Low", true)
	if err := env.Engine.Repo.UpdateEpisodeRisk(env.Ctx, nil, c.Episode.ID, c.Episode.Version, "High"); err != nil {
		t.Fatal(err)
	}
	err := env.Engine.Repo.UpdateEpisodeRisk(env.Ctx, nil, c.Episode.ID, c.Episode.Version, "Low")
	if !errors.Is(err, repo.ErrStaleVersion) {
		t.Fatalf("expected stale version, got %v", err)
	}
}

func TestQuestionBankAndTypesAreEditable(t *testing.T) {
	env := newTestEnv(t)
	one, zero := 1, 0
	q, err := env.Engine.SaveQuestion(env.Ctx, domain.AssessmentQuestion{
		Tag: "curfew_violation", Text: "Curfew violation in the last 90 days?", InputType: "select",
		ApplicableTools: []string{"ORAS-CST"},
		Options:         []domain.QuestionOption{{Label: "Yes", Score: &one}, {Label: "No", Score: &zero}},
	}, "tester")
	if err != nil {
		t.Fatalf("save question: %v", err)
	}
	if q.SourceType != "manual" {
		t.Fatalf("expected manual source by default, got %q", q.SourceType)
	}
	bank, err := env.Engine.ListQuestions(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	var stored *domain.AssessmentQuestion
	for i := range bank {
		if bank[i].Tag == "curfew_violation" {
			stored = &bank[i]
		}
	}
	if stored == nil || len(stored.Options) != 2 || stored.ApplicableTools[0] != "ORAS-CST" {
		t.Fatalf("question not stored as saved: %+v", stored)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.SaveQuestion(env.Ctx, domain.AssessmentQuestion{Tag: "x", Text: "x", InputType: "slider"}, "tester"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown input type, got %v", err)
	}

	if _, err := env.Engine.SaveAssessmentType(env.Ctx, domain.AssessmentType{
		Name: "Bad", ScoringMatrix: []domain.ScoreBand{{Label: "Low", Min: 5, Max: 1}},
	}, "tester"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for inverted band, got %v", err)
	}
	if _, err := env.Engine.SaveAssessmentType(env.Ctx, domain.AssessmentType{
		Name: "ORAS-CST", ScoringMatrix: []domain.ScoreBand{{Label: "Low", Min: 0, Max: 0}, {Label: "High", Min: 1, Max: 99}},
	}, "tester"); err != nil {
		t.Fatalf("save type: %v", err)
	}
	types, err := env.Engine.ListAssessmentTypes(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, typ := range types {
		if typ.Name == "Bad" {
			t.Fatalf("rejected type was stored")
		}
		if typ.Name == "ORAS-CST" && len(typ.ScoringMatrix) != 2 {
			t.Fatalf("expected the replaced matrix, got %+v", typ.ScoringMatrix)
		}
	}

	env.addCase(t, "o1", "2023-01-01", "Low", true)
	s := completedSession(t, env, "o1", "ORAS-CST", "", map[string]any{"curfew_violation": "Yes"})
	if s.ComputedLevel != "High" || s.TotalScore == nil || *s.TotalScore != 1 {
		t.Fatalf("new question and matrix should drive scoring, got %+v", s)
	}
}

func TestCreateTemplateInfersKindFromName(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateOptions{Name: "Interstate Transfer Request"}, "tester")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if tr.Kind != workflow.KindTransfer {
		t.Fatalf("expected transfer_request inferred from the name, got %s", tr.Kind)
	}
	gen, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateOptions{Name: "Curfew Waiver"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if gen.Kind != workflow.KindGeneric {
		t.Fatalf("expected generic, got %s", gen.Kind)
	}
	forced, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateOptions{Name: "Transfer Checklist", Kind: workflow.KindGeneric}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if forced.Kind != workflow.KindGeneric {
		t.Fatalf("explicit kind must win over the name, got %s", forced.Kind)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateOptions{Name: "Odd", Kind: "parole_board"}, "tester"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}

	env.addCase(t, "o1", "2023-01-01", "Low", true)
	d, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{Template: tr.Name, SubjectID: "o1", ActorID: "officer-a"})
	if err != nil {
		t.Fatal(err)
	}
	if d.TemplateKind != workflow.KindTransfer {
		t.Fatalf("document should follow the transfer table, got %s", d.TemplateKind)
	}
}

func newTransfer(t *testing.T, env testEnv) domain.WorkflowDocument {
	t.Helper()
	env.addCase(t, "o1", "2023-01-01", "Low", true)
	d, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{
		Template: "Transfer Request", SubjectID: "o1", ActorID: "officer-a",
		FormData: map[string]any{"reason": "moving counties"},
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if d.TemplateKind != workflow.KindTransfer || d.Status != workflow.StatusDraft || d.AssignedTo != "officer-a" {
		t.Fatalf("unexpected document %+v", d)
	}
	return d
}

func act(t *testing.T, env testEnv, docID, action, actor, target string) domain.WorkflowDocument {
	t.Helper()
	d, err := env.Engine.TransitionWorkflow(env.Ctx, engine.TransitionOptions{
		DocumentID: docID, Action: action, ActorID: actor, TargetUser: target, Comment: action + " by " + actor,
	})
	if err != nil {
		t.Fatalf("%s by %s: %v", action, actor, err)
	}
	return d
}

func TestTransferWorkflowHappyPath(t *testing.T) {
	env := newTestEnv(t)
	d := newTransfer(t, env)

	d = act(t, env, d.ID, workflow.ActionSubmit, "officer-a", "")
	if d.Status != workflow.StatusPendingSupReview || !d.IsLocked || d.AssignedTo != "sup-user" || d.CurrentStep != "Supervisor Review" {
		t.Fatalf("unexpected after submit %+v", d)
	}
	d = act(t, env, d.ID, workflow.ActionApprove, "sup-user", "recv-sup")
	if d.Status != workflow.StatusPendingReceivingSup || d.AssignedTo != "recv-sup" {
		t.Fatalf("unexpected after approve %+v", d)
	}
	d = act(t, env, d.ID, workflow.ActionApprove, "recv-sup", "officer-b")
	if d.Status != workflow.StatusPendingNewOfficer || d.CurrentStep != "New Officer Acceptance" {
		t.Fatalf("unexpected after second approve %+v", d)
	}
	d = act(t, env, d.ID, workflow.ActionAccept, "officer-b", "")
	if d.Status != workflow.StatusCompleted {
		t.Fatalf("unexpected after accept %+v", d)
	}
	c, err := env.Engine.GetCase(env.Ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Episode.AssignedOfficerID != "off-b" {
		t.Fatalf("episode must move to the accepting officer, got %s", c.Episode.AssignedOfficerID)
	}
	entries, err := env.Engine.ListWorkflowLog(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 log rows, got %d", len(entries))
	}
	if entries[0].FromStatus != workflow.StatusDraft || entries[3].ToStatus != workflow.StatusCompleted || entries[3].Outcome != engine.LogApplied {
		t.Fatalf("unexpected log %+v", entries)
	}
}

func TestTransferReturnGoesBackToCreator(t *testing.T) {
	env := newTestEnv(t)
	d := newTransfer(t, env)
	act(t, env, d.ID, workflow.ActionSubmit, "officer-a", "")
	d = act(t, env, d.ID, workflow.ActionReturn, "sup-user", "")
	if d.Status != workflow.StatusCorrectionNeeded || d.IsLocked || d.AssignedTo != "officer-a" || d.CurrentStep != "Draft" {
		t.Fatalf("unexpected after return %+v", d)
	}
	d = act(t, env, d.ID, workflow.ActionSubmit, "officer-a", "")
	if d.Status != workflow.StatusPendingSupReview {
		t.Fatalf("resubmit from Correction_Needed failed: %+v", d)
	}
}

func TestInvalidTransitionIsAudited(t *testing.T) {
	env := newTestEnv(t)
	d := newTransfer(t, env)
	_, err := env.Engine.TransitionWorkflow(env.Ctx, engine.TransitionOptions{DocumentID: d.ID, Action: workflow.ActionAccept, ActorID: "officer-b"})
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	got, _ := env.Engine.GetDocument(env.Ctx, d.ID)
	if got.Status != workflow.StatusDraft {
		t.Fatalf("status must not change, got %s", got.Status)
	}
	entries, err := env.Engine.ListWorkflowLog(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Outcome != engine.LogRejected || entries[0].Error == "" {
		t.Fatalf("expected one rejected row, got %+v", entries)
	}
	if _, err := env.Engine.TransitionWorkflow(env.Ctx, engine.TransitionOptions{DocumentID: "nope", Action: "Submit", ActorID: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcceptWithoutOfficerProfileRollsBack(t *testing.T) {
	env := newTestEnv(t)
	d := newTransfer(t, env)
	act(t, env, d.ID, workflow.ActionSubmit, "officer-a", "")
	act(t, env, d.ID, workflow.ActionApprove, "sup-user", "")
	act(t, env, d.ID, workflow.ActionApprove, "sup-user", "")
	_, err := env.Engine.TransitionWorkflow(env.Ctx, engine.TransitionOptions{DocumentID: d.ID, Action: workflow.ActionAccept, ActorID: "contractor"})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := env.Engine.GetDocument(env.Ctx, d.ID)
	if got.Status != workflow.StatusPendingNewOfficer {
		t.Fatalf("failed accept must roll back, got %s", got.Status)
	}
	c, _ := env.Engine.GetCase(env.Ctx, "o1")
	if c.Episode.AssignedOfficerID != "off-a" {
		t.Fatalf("episode must keep its officer, got %s", c.Episode.AssignedOfficerID)
	}
	entries, _ := env.Engine.ListWorkflowLog(env.Ctx, d.ID)
	if last := entries[len(entries)-1]; last.Outcome != engine.LogRejected || last.Action != workflow.ActionAccept {
		t.Fatalf("expected rejected accept row, got %+v", last)
	}
}

func TestGenericWorkflow(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentOptions{Template: "Home Visit Report", ActorID: "officer-a"})
	if err != nil {
		t.Fatal(err)
	}
	if d.TemplateKind != workflow.KindGeneric {
		t.Fatalf("expected generic kind, got %s", d.TemplateKind)
	}
	d = act(t, env, d.ID, workflow.ActionSubmit, "officer-a", "sup-user")
	if d.Status != workflow.StatusSubmitted || !d.IsLocked || d.AssignedTo != "sup-user" {
		t.Fatalf("unexpected after submit %+v", d)
	}
	if _, err := env.Engine.UpdateFormData(env.Ctx, d.ID, map[string]any{"x": 1}, "officer-a"); !errors.Is(err, engine.ErrDocumentLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	d = act(t, env, d.ID, workflow.ActionApprove, "sup-user", "")
	if d.Status != workflow.StatusApproved {
		t.Fatalf("unexpected after approve %+v", d)
	}
	if _, err := env.Engine.TransitionWorkflow(env.Ctx, engine.TransitionOptions{DocumentID: d.ID, Action: workflow.ActionDeny, ActorID: "sup-user"}); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("approved is terminal, got %v", err)
	}
}
