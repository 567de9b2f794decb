package caseflowsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/logger"
	"caseflow/internal/migrate"
	"caseflow/internal/server"
	caseflowsdk "caseflow/sdk/go"
)

func newClient(t *testing.T, actor string, roles []string) *caseflowsdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC) }
	e.Log = logger.Discard()
	ctx := context.Background()
	if _, err := e.ImportCatalog(ctx, cfg, "tester"); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := e.CreateOfficer(ctx, engine.OfficerOptions{ID: "off-a", UserID: "officer-a"}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateCase(ctx, engine.CaseOptions{
		Offender:         domain.Offender{ID: "o1", BadgeID: "B1", ReleaseDate: "2024-03-13"},
		EpisodeStart:     "2024-03-13",
		OfficerID:        "off-a",
		RiskLevelAtStart: "Low",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	token, err := server.SignToken("sdk-secret", actor, roles, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return caseflowsdk.New(ts.URL, token)
}

func TestClientAutomationAndTasks(t *testing.T) {
	c := newClient(t, "alice", []string{"admin"})
	ctx := context.Background()
	report, err := c.RunAutomation(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TasksCreated != 1 {
		t.Fatalf("expected one task, got %+v", report)
	}
	tasks, err := c.Tasks(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Home Visit Intake" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	report, err = c.FireEvent(ctx, "positive_ua", "o1")
	if err != nil || report.TasksCreated != 1 {
		t.Fatalf("event: %+v %v", report, err)
	}
}

func TestClientAssessmentOverride(t *testing.T) {
	c := newClient(t, "officer-a", []string{"officer"})
	ctx := context.Background()
	form, err := c.InitAssessment(ctx, "o1", "ORAS-CSST")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SaveAnswer(ctx, form.Session.ID, "prior_felonies", 1); err != nil {
		t.Fatal(err)
	}
	score, err := c.Score(ctx, form.Session.ID)
	if err != nil || score.Level != "Low" {
		t.Fatalf("score: %+v %v", score, err)
	}
	s, err := c.SubmitAssessment(ctx, form.Session.ID, "Moderate/High", "recent violation")
	if err != nil {
		t.Fatal(err)
	}
	if s.FinalLevel != "Moderate/High" || s.ComputedLevel != "Low" || s.OverrideReason != "recent violation" {
		t.Fatalf("unexpected session %+v", s)
	}
	if _, err := c.SubmitAssessment(ctx, form.Session.ID, "", ""); !caseflowsdk.IsCode(err, "session_completed") {
		t.Fatalf("expected session_completed, got %v", err)
	}
}

func TestClientReportsErrorCodes(t *testing.T) {
	c := newClient(t, "officer-a", []string{"officer"})
	ctx := context.Background()
	if _, err := c.RunAutomation(ctx); !caseflowsdk.IsCode(err, "forbidden") {
		t.Fatalf("expected forbidden, got %v", err)
	}
	d, err := c.CreateDocument(ctx, "Home Visit Report", "o1", map[string]any{"visited": true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Act(ctx, d.ID, "Approve", "", ""); !caseflowsdk.IsCode(err, "invalid_transition") {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	d, err = c.Act(ctx, d.ID, "Submit", "done", "sup-user")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "Submitted" || d.AssignedTo != "sup-user" {
		t.Fatalf("unexpected document %+v", d)
	}
	entries, err := c.DocumentLog(ctx, d.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("log: %+v %v", entries, err)
	}
}

func TestClientCatalogAdmin(t *testing.T) {
	c := newClient(t, "alice", []string{"admin"})
	ctx := context.Background()
	rules, err := c.Rules(ctx)
	if err != nil || len(rules) == 0 {
		t.Fatalf("rules: %+v %v", rules, err)
	}
	deleted, err := c.DeleteRule(ctx, rules[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if deleted.ID != rules[0].ID {
		t.Fatalf("unexpected deleted rule %+v", deleted)
	}
	if _, err := c.DeleteRule(ctx, rules[0].ID); !caseflowsdk.IsCode(err, "not_found") {
		t.Fatalf("expected not_found, got %v", err)
	}

	two := 2
	q, err := c.SaveQuestion(ctx, caseflowsdk.Question{
		Tag: "curfew_violation", Text: "Curfew violation?", InputType: "select",
		Options: []caseflowsdk.QuestionOption{{Label: "Yes", Score: &two}},
	})
	if err != nil || q.SourceType != "manual" {
		t.Fatalf("save question: %+v %v", q, err)
	}
	if _, err := c.SaveQuestion(ctx, caseflowsdk.Question{Tag: "bad", Text: "x", InputType: "text", SourceType: "guess"}); err == nil {
		t.Fatalf("expected unknown source type to be rejected")
	}
	types, err := c.AssessmentTypes(ctx)
	if err != nil || len(types) == 0 {
		t.Fatalf("types: %+v %v", types, err)
	}

	tmpl, err := c.CreateTemplate(ctx, "Out-of-State Transfer", "")
	if err != nil || tmpl.Kind != "transfer_request" {
		t.Fatalf("template: %+v %v", tmpl, err)
	}
}
