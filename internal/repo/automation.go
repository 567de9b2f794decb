package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// UpsertRule inserts or replaces a rule keyed by name.
func (r Repo) UpsertRule(ctx context.Context, tx *sql.Tx, rule domain.AutomationRule) error {
	conds := rule.Conditions
	if conds == nil {
		conds = []domain.Condition{}
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO automation_rules(id,name,trigger_field,trigger_offset,trigger_direction,conditions_json,task_title,task_description,task_priority,due_offset,is_active)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET trigger_field=excluded.trigger_field, trigger_offset=excluded.trigger_offset,
  trigger_direction=excluded.trigger_direction, conditions_json=excluded.conditions_json, task_title=excluded.task_title,
  task_description=excluded.task_description, task_priority=excluded.task_priority, due_offset=excluded.due_offset, is_active=excluded.is_active`,
		rule.ID, rule.Name, rule.TriggerField, rule.TriggerOffset, rule.TriggerDirection, string(data), rule.TaskTitle,
		nullable(rule.TaskDescription), nullable(rule.TaskPriority), rule.DueOffset, boolInt(rule.IsActive))
	return err
}

const ruleCols = `id,name,trigger_field,trigger_offset,trigger_direction,conditions_json,task_title,COALESCE(task_description,''),COALESCE(task_priority,''),due_offset,is_active`

func scanRule(scan func(dest ...any) error) (domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var conds string
	var active int
	if err := scan(&rule.ID, &rule.Name, &rule.TriggerField, &rule.TriggerOffset, &rule.TriggerDirection, &conds, &rule.TaskTitle,
		&rule.TaskDescription, &rule.TaskPriority, &rule.DueOffset, &active); err != nil {
		return rule, err
	}
	rule.IsActive = active == 1
	if err := json.Unmarshal([]byte(conds), &rule.Conditions); err != nil {
		return rule, fmt.Errorf("rule %s conditions: %w", rule.Name, err)
	}
	return rule, nil
}

func (r Repo) GetRule(ctx context.Context, tx *sql.Tx, id string) (domain.AutomationRule, error) {
	rule, err := scanRule(r.q(tx).QueryRowContext(ctx, `SELECT `+ruleCols+` FROM automation_rules WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	return rule, err
}

// DeleteRule removes a rule. Tasks it already created stay and lose their
// rule reference.
func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET rule_id=NULL WHERE rule_id=?`, id); err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM automation_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRuleByName(ctx context.Context, name string) (domain.AutomationRule, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM automation_rules WHERE name=?`, name).Scan)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	return rule, err
}

// ListRules returns rules ordered by name. activeOnly filters disabled rules;
// triggerField, when set, keeps only rules on that field or event.
func (r Repo) ListRules(ctx context.Context, activeOnly bool, triggerField string) ([]domain.AutomationRule, error) {
	clauses := []string{"1=1"}
	var args []any
	if activeOnly {
		clauses = append(clauses, "is_active=1")
	}
	if triggerField != "" {
		clauses = append(clauses, "trigger_field=?")
		args = append(args, triggerField)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleCols+` FROM automation_rules WHERE `+strings.Join(clauses, " AND ")+` ORDER BY name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// CreateTaskIfAbsent inserts t unless a task with the same title already
// exists on the episode. It reports whether a row was written and returns
// the existing task's id on a hit.
func (r Repo) CreateTaskIfAbsent(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, string, error) {
	if t.EpisodeID == nil || *t.EpisodeID == "" {
		return false, "", fmt.Errorf("task %q: episode_id required", t.Title)
	}
	var existing string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM tasks WHERE title=? AND episode_id=?`, t.Title, *t.EpisodeID).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", err
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO tasks(id,episode_id,offender_id,rule_id,title,description,due_date,status,assigned_officer_id,priority,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, *t.EpisodeID, nullable(t.OffenderID), nullable(t.RuleID), t.Title, nullable(t.Description), t.DueDate, t.Status,
		t.AssignedOfficerID, nullable(t.Priority), t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return false, "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// lost a race with a concurrent writer on UNIQUE(title, episode_id)
		err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM tasks WHERE title=? AND episode_id=?`, t.Title, *t.EpisodeID).Scan(&existing)
		return false, existing, err
	}
	return true, t.ID, nil
}

const taskCols = `id,episode_id,COALESCE(offender_id,''),COALESCE(rule_id,''),title,COALESCE(description,''),due_date,status,assigned_officer_id,COALESCE(priority,''),created_by,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var episode sql.NullString
	if err := scan(&t.ID, &episode, &t.OffenderID, &t.RuleID, &t.Title, &t.Description, &t.DueDate, &t.Status,
		&t.AssignedOfficerID, &t.Priority, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if episode.Valid {
		t.EpisodeID = &episode.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	EpisodeID  string
	OffenderID string
	AssigneeID string
	Status     string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EpisodeID != "" {
		clauses = append(clauses, "episode_id=?")
		args = append(args, f.EpisodeID)
	}
	if f.OffenderID != "" {
		clauses = append(clauses, "offender_id=?")
		args = append(args, f.OffenderID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assigned_officer_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskCols + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY due_date, title`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
