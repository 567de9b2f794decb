package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	OfficerCreated       = "officer.created"
	CaseCreated          = "case.created"
	TaskCreated          = "task.created"
	AutomationPass       = "automation.pass"
	AutomationEvent      = "automation.event"
	RuleSaved            = "automation.rule_saved"
	RuleDeleted          = "automation.rule_deleted"
	QuestionSaved        = "assessment.question_saved"
	AssessmentTypeSaved  = "assessment.type_saved"
	AssessmentStarted    = "assessment.started"
	AssessmentAnswered   = "assessment.answered"
	AssessmentSubmitted  = "assessment.submitted"
	TemplateSaved        = "workflow.template_saved"
	WorkflowCreated      = "workflow.created"
	WorkflowUpdated      = "workflow.updated"
	WorkflowTransitioned = "workflow.transitioned"
	WorkflowRejected     = "workflow.rejected"
	CatalogImported      = "catalog.imported"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
