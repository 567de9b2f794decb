package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/metrics"
	"caseflow/internal/repo"
	"caseflow/internal/workflow"
)

const (
	LogApplied  = "applied"
	LogRejected = "rejected"
)

// ErrDocumentLocked rejects form edits while a document is under review.
var ErrDocumentLocked = errors.New("document is locked")

// TemplateOptions create a form template or change its kind.
type TemplateOptions struct {
	Name string
	Kind string
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateOptions, actorID string) (domain.FormTemplate, error) {
	if opts.Name == "" {
		return domain.FormTemplate{}, invalid("name", "required")
	}
	if opts.Kind != "" && opts.Kind != workflow.KindTransfer && opts.Kind != workflow.KindGeneric {
		return domain.FormTemplate{}, invalid("kind", fmt.Sprintf("unknown template kind %q", opts.Kind))
	}
	t := domain.FormTemplate{ID: uuid.NewString(), Name: opts.Name, Kind: workflow.KindFor(opts.Kind, opts.Name)}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	id, err := e.Repo.UpsertTemplate(ctx, tx, t)
	if err != nil {
		return t, err
	}
	t.ID = id
	if err := e.events().Append(ctx, tx, events.TemplateSaved, "form_template", t.ID, actorID, events.EventPayload{"name": t.Name, "kind": t.Kind}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

func (e Engine) ListTemplates(ctx context.Context) ([]domain.FormTemplate, error) {
	return e.Repo.ListTemplates(ctx)
}

type DocumentOptions struct {
	Template   string // id or name
	SubjectID  string
	AssignedTo string
	FormData   map[string]any
	ActorID    string
}

// CreateDocument starts a Draft document owned by the actor.
func (e Engine) CreateDocument(ctx context.Context, opts DocumentOptions) (domain.WorkflowDocument, error) {
	if opts.Template == "" {
		return domain.WorkflowDocument{}, invalid("template", "required")
	}
	if opts.ActorID == "" {
		return domain.WorkflowDocument{}, invalid("actor_id", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowDocument{}, err
	}
	defer tx.Rollback()
	tmpl, err := e.Repo.GetTemplate(ctx, tx, opts.Template)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowDocument{}, notFound("template", opts.Template)
	}
	if err != nil {
		return domain.WorkflowDocument{}, err
	}
	if opts.SubjectID != "" {
		if _, err := e.Repo.GetOffender(ctx, tx, opts.SubjectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.WorkflowDocument{}, notFound("subject", opts.SubjectID)
			}
			return domain.WorkflowDocument{}, err
		}
	}
	now := e.timestamp()
	d := domain.WorkflowDocument{
		ID:           uuid.NewString(),
		TemplateID:   tmpl.ID,
		TemplateKind: workflow.KindFor(tmpl.Kind, tmpl.Name),
		SubjectID:    opts.SubjectID,
		AssignedTo:   opts.AssignedTo,
		CreatedBy:    opts.ActorID,
		Status:       workflow.StatusDraft,
		CurrentStep:  workflow.StatusDraft,
		FormData:     opts.FormData,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d.AssignedTo == "" {
		d.AssignedTo = opts.ActorID
	}
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.WorkflowDocument{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.WorkflowCreated, "workflow_document", d.ID, opts.ActorID, events.EventPayload{
		"template": tmpl.Name, "kind": d.TemplateKind, "subject_id": d.SubjectID,
	}); err != nil {
		return domain.WorkflowDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowDocument{}, err
	}
	return d, nil
}

func (e Engine) GetDocument(ctx context.Context, id string) (domain.WorkflowDocument, error) {
	d, err := e.Repo.GetDocument(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return d, notFound("document", id)
	}
	return d, err
}

func (e Engine) ListDocuments(ctx context.Context, f repo.DocumentFilters) ([]domain.WorkflowDocument, error) {
	return e.Repo.ListDocuments(ctx, f)
}

// UpdateFormData replaces the form payload of an unlocked document.
func (e Engine) UpdateFormData(ctx context.Context, id string, data map[string]any, actorID string) (domain.WorkflowDocument, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowDocument{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocument(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return d, notFound("document", id)
	}
	if err != nil {
		return d, err
	}
	if d.IsLocked {
		return d, fmt.Errorf("document %s in %s: %w", id, d.Status, ErrDocumentLocked)
	}
	d.FormData = data
	d.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateDocument(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.events().Append(ctx, tx, events.WorkflowUpdated, "workflow_document", d.ID, actorID, nil); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

// ListWorkflowLog returns the audit trail of a document.
func (e Engine) ListWorkflowLog(ctx context.Context, documentID string) ([]domain.WorkflowLogEntry, error) {
	if _, err := e.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkflowLog(ctx, documentID)
}

type TransitionOptions struct {
	DocumentID string
	Action     string
	ActorID    string
	Comment    string
	// TargetUser overrides the assignment the step computes.
	TargetUser string
}

// TransitionWorkflow applies action to a document. The state change, its
// side effects and the audit row commit together; a failed attempt is still
// audited with outcome rejected.
func (e Engine) TransitionWorkflow(ctx context.Context, opts TransitionOptions) (domain.WorkflowDocument, error) {
	if opts.ActorID == "" {
		return domain.WorkflowDocument{}, invalid("actor_id", "required")
	}
	d, err := e.GetDocument(ctx, opts.DocumentID)
	if err != nil {
		return d, err
	}
	step, err := workflow.Resolve(d.TemplateKind, d.Status, opts.Action)
	if err != nil {
		e.reject(ctx, d, opts, err)
		return d, err
	}
	var out domain.WorkflowDocument
	apply := func() error {
		var err error
		out, err = e.applyTransition(ctx, opts)
		return err
	}
	if step.ReassignEpisode {
		err = e.withSubjectLock(ctx, d.SubjectID, apply)
	} else {
		err = apply()
	}
	if err != nil {
		e.reject(ctx, d, opts, err)
		return d, err
	}
	metrics.RecordTransition(ctx, out.TemplateKind, opts.Action, LogApplied)
	return out, nil
}

func (e Engine) applyTransition(ctx context.Context, opts TransitionOptions) (domain.WorkflowDocument, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowDocument{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocument(ctx, tx, opts.DocumentID)
	if errors.Is(err, repo.ErrNotFound) {
		return d, notFound("document", opts.DocumentID)
	}
	if err != nil {
		return d, err
	}
	// the status may have moved since the caller resolved the step
	step, err := workflow.Resolve(d.TemplateKind, d.Status, opts.Action)
	if err != nil {
		return d, err
	}

	switch step.Assign {
	case workflow.AssignSupervisor:
		if user, err := e.supervisorUser(ctx, tx, opts.ActorID); err != nil {
			return d, err
		} else if user != "" {
			d.AssignedTo = user
		}
	case workflow.AssignCreator:
		d.AssignedTo = d.CreatedBy
	}
	if opts.TargetUser != "" {
		d.AssignedTo = opts.TargetUser
	}
	if step.Lock != nil {
		d.IsLocked = *step.Lock
	}
	payload := events.EventPayload{"action": opts.Action, "from": step.From, "to": step.To, "assigned_to": d.AssignedTo}
	if step.ReassignEpisode {
		episodeID, officerID, err := e.reassignEpisode(ctx, tx, d.SubjectID, opts.ActorID)
		if err != nil {
			return d, err
		}
		payload["episode_id"] = episodeID
		payload["officer_id"] = officerID
	}
	d.Status = step.To
	d.CurrentStep = step.Label
	d.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateDocument(ctx, tx, d); err != nil {
		return d, err
	}
	if _, err := e.Repo.InsertWorkflowLog(ctx, tx, domain.WorkflowLogEntry{
		DocumentID: d.ID,
		ActorID:    opts.ActorID,
		Action:     opts.Action,
		Comment:    opts.Comment,
		FromStatus: step.From,
		ToStatus:   step.To,
		Outcome:    LogApplied,
		TS:         d.UpdatedAt,
	}); err != nil {
		return d, err
	}
	if err := e.events().Append(ctx, tx, events.WorkflowTransitioned, "workflow_document", d.ID, opts.ActorID, payload); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// supervisorUser resolves actor -> officer -> supervisor officer -> user.
// An empty result leaves the assignment unchanged.
func (e Engine) supervisorUser(ctx context.Context, tx *sql.Tx, actorID string) (string, error) {
	officer, err := e.Repo.OfficerByUser(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if officer.SupervisorID == nil {
		return "", nil
	}
	sup, err := e.Repo.GetOfficer(ctx, tx, *officer.SupervisorID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sup.UserID, nil
}

func (e Engine) reassignEpisode(ctx context.Context, tx *sql.Tx, subjectID, actorID string) (string, string, error) {
	if subjectID == "" {
		return "", "", invalid("subject_id", "document has no subject to transfer")
	}
	officer, err := e.Repo.OfficerByUser(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", "", invalid("actor_id", fmt.Sprintf("actor %s has no officer profile", actorID))
	}
	if err != nil {
		return "", "", err
	}
	ep, err := e.Repo.ActiveEpisode(ctx, tx, subjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", "", notFound("active episode for subject", subjectID)
	}
	if err != nil {
		return "", "", err
	}
	if err := e.Repo.ReassignEpisode(ctx, tx, ep.ID, ep.Version, officer.ID); err != nil {
		return "", "", conflictOnStale(err)
	}
	return ep.ID, officer.ID, nil
}

// reject audits a failed attempt in its own transaction.
func (e Engine) reject(ctx context.Context, d domain.WorkflowDocument, opts TransitionOptions, cause error) {
	ctx = context.WithoutCancel(ctx)
	metrics.RecordTransition(ctx, d.TemplateKind, opts.Action, LogRejected)
	e.log(ctx).Warn("workflow transition rejected",
		"document", d.ID, "status", d.Status, "action", opts.Action, "actor", opts.ActorID, "error", cause)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.log(ctx).Error("audit rejected transition", "document", d.ID, "error", err)
		return
	}
	defer tx.Rollback()
	if _, err := e.Repo.InsertWorkflowLog(ctx, tx, domain.WorkflowLogEntry{
		DocumentID: d.ID,
		ActorID:    opts.ActorID,
		Action:     opts.Action,
		Comment:    opts.Comment,
		FromStatus: d.Status,
		Outcome:    LogRejected,
		Error:      cause.Error(),
		TS:         e.timestamp(),
	}); err != nil {
		e.log(ctx).Error("audit rejected transition", "document", d.ID, "error", err)
		return
	}
	if err := e.events().Append(ctx, tx, events.WorkflowRejected, "workflow_document", d.ID, opts.ActorID, events.EventPayload{
		"action": opts.Action, "status": d.Status, "error": cause.Error(),
	}); err != nil {
		e.log(ctx).Error("audit rejected transition", "document", d.ID, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.log(ctx).Error("audit rejected transition", "document", d.ID, "error", err)
	}
}
