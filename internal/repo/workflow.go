package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// UpsertTemplate inserts a template by name, or updates its kind. It
// returns the stored id.
func (r Repo) UpsertTemplate(ctx context.Context, tx *sql.Tx, t domain.FormTemplate) (string, error) {
	if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO form_templates(id,name,kind) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET kind=excluded.kind`, t.ID, t.Name, t.Kind); err != nil {
		return "", err
	}
	var id string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM form_templates WHERE name=?`, t.Name).Scan(&id)
	return id, err
}

func (r Repo) GetTemplate(ctx context.Context, tx *sql.Tx, id string) (domain.FormTemplate, error) {
	var t domain.FormTemplate
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,kind FROM form_templates WHERE id=? OR name=?`, id, id).Scan(&t.ID, &t.Name, &t.Kind)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.FormTemplate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,kind FROM form_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FormTemplate
	for rows.Next() {
		var t domain.FormTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func marshalFormData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal form data: %w", err)
	}
	return string(b), nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.WorkflowDocument) error {
	data, err := marshalFormData(d.FormData)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO workflow_documents(id,template_id,template_kind,subject_id,assigned_to,created_by,status,current_step,is_locked,form_data_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TemplateID, d.TemplateKind, nullable(d.SubjectID), d.AssignedTo, d.CreatedBy, d.Status, d.CurrentStep, boolInt(d.IsLocked), data, d.CreatedAt, d.UpdatedAt)
	return err
}

// UpdateDocument persists the mutable workflow columns.
func (r Repo) UpdateDocument(ctx context.Context, tx *sql.Tx, d domain.WorkflowDocument) error {
	data, err := marshalFormData(d.FormData)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workflow_documents SET assigned_to=?, status=?, current_step=?, is_locked=?, form_data_json=?, updated_at=? WHERE id=?`,
		d.AssignedTo, d.Status, d.CurrentStep, boolInt(d.IsLocked), data, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

const documentCols = `id,template_id,template_kind,COALESCE(subject_id,''),assigned_to,created_by,status,current_step,is_locked,form_data_json,created_at,updated_at`

func scanDocument(scan func(dest ...any) error) (domain.WorkflowDocument, error) {
	var d domain.WorkflowDocument
	var locked int
	var data string
	if err := scan(&d.ID, &d.TemplateID, &d.TemplateKind, &d.SubjectID, &d.AssignedTo, &d.CreatedBy, &d.Status, &d.CurrentStep, &locked, &data, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	d.IsLocked = locked == 1
	if err := json.Unmarshal([]byte(data), &d.FormData); err != nil {
		return d, fmt.Errorf("document %s form data: %w", d.ID, err)
	}
	return d, nil
}

func (r Repo) GetDocument(ctx context.Context, tx *sql.Tx, id string) (domain.WorkflowDocument, error) {
	d, err := scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentCols+` FROM workflow_documents WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

type DocumentFilters struct {
	AssignedTo string
	CreatedBy  string
	SubjectID  string
	Status     string
	Limit      int
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.WorkflowDocument, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, f.SubjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + documentCols + ` FROM workflow_documents WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowDocument
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// InsertWorkflowLog appends one audit row and returns its id.
func (r Repo) InsertWorkflowLog(ctx context.Context, tx *sql.Tx, l domain.WorkflowLogEntry) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO workflow_logs(document_id,actor_id,action,comment,from_status,to_status,outcome,error,ts) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.DocumentID, l.ActorID, l.Action, nullable(l.Comment), l.FromStatus, nullable(l.ToStatus), l.Outcome, nullable(l.Error), l.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListWorkflowLog returns a document's audit trail oldest first.
func (r Repo) ListWorkflowLog(ctx context.Context, documentID string) ([]domain.WorkflowLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,document_id,actor_id,action,COALESCE(comment,''),from_status,COALESCE(to_status,''),outcome,COALESCE(error,''),ts
FROM workflow_logs WHERE document_id=? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowLogEntry
	for rows.Next() {
		var l domain.WorkflowLogEntry
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ActorID, &l.Action, &l.Comment, &l.FromStatus, &l.ToStatus, &l.Outcome, &l.Error, &l.TS); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
