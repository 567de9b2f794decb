package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

// Applicable tools are stored pipe-separated.
const toolSeparator = "|"

func (r Repo) UpsertQuestion(ctx context.Context, tx *sql.Tx, q domain.AssessmentQuestion) error {
	opts := q.Options
	if opts == nil {
		opts = []domain.QuestionOption{}
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	source := q.SourceType
	if source == "" {
		source = "manual"
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO assessment_questions(tag,text,category,input_type,source_type,applicable_tools,options_json,scoring_note)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(tag) DO UPDATE SET text=excluded.text, category=excluded.category, input_type=excluded.input_type,
  source_type=excluded.source_type, applicable_tools=excluded.applicable_tools, options_json=excluded.options_json, scoring_note=excluded.scoring_note`,
		q.Tag, q.Text, nullable(q.Category), q.InputType, source, strings.Join(q.ApplicableTools, toolSeparator), string(data), nullable(q.ScoringNote))
	return err
}

// ListQuestions returns the question bank ordered by tag.
func (r Repo) ListQuestions(ctx context.Context) ([]domain.AssessmentQuestion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag,text,COALESCE(category,''),input_type,source_type,applicable_tools,options_json,COALESCE(scoring_note,'') FROM assessment_questions ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssessmentQuestion
	for rows.Next() {
		var q domain.AssessmentQuestion
		var tools, opts string
		if err := rows.Scan(&q.Tag, &q.Text, &q.Category, &q.InputType, &q.SourceType, &tools, &opts, &q.ScoringNote); err != nil {
			return nil, err
		}
		for _, t := range strings.Split(tools, toolSeparator) {
			if t = strings.TrimSpace(t); t != "" {
				q.ApplicableTools = append(q.ApplicableTools, t)
			}
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.Tag, err)
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// QuestionBank indexes ListQuestions by tag.
func (r Repo) QuestionBank(ctx context.Context) (map[string]domain.AssessmentQuestion, error) {
	qs, err := r.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	bank := make(map[string]domain.AssessmentQuestion, len(qs))
	for _, q := range qs {
		bank[q.Tag] = q
	}
	return bank, nil
}

func (r Repo) UpsertAssessmentType(ctx context.Context, tx *sql.Tx, t domain.AssessmentType) error {
	bands := t.ScoringMatrix
	if bands == nil {
		bands = []domain.ScoreBand{}
	}
	data, err := json.Marshal(bands)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO assessment_types(name,scoring_matrix_json) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET scoring_matrix_json=excluded.scoring_matrix_json`, t.Name, string(data))
	return err
}

func (r Repo) GetAssessmentType(ctx context.Context, tx *sql.Tx, name string) (domain.AssessmentType, error) {
	t := domain.AssessmentType{Name: name}
	var data string
	err := r.q(tx).QueryRowContext(ctx, `SELECT scoring_matrix_json FROM assessment_types WHERE name=?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(data), &t.ScoringMatrix); err != nil {
		return t, fmt.Errorf("assessment type %s matrix: %w", name, err)
	}
	return t, nil
}

func (r Repo) ListAssessmentTypes(ctx context.Context) ([]domain.AssessmentType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,scoring_matrix_json FROM assessment_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssessmentType
	for rows.Next() {
		var t domain.AssessmentType
		var data string
		if err := rows.Scan(&t.Name, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &t.ScoringMatrix); err != nil {
			return nil, fmt.Errorf("assessment type %s matrix: %w", t.Name, err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.AssessmentSession) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO assessment_sessions(id,subject_id,tool_name,date,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.SubjectID, s.ToolName, s.Date, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

const sessionCols = `id,subject_id,tool_name,date,status,total_score,COALESCE(computed_level,''),COALESCE(final_level,''),COALESCE(override_reason,''),details_json,category_json,created_at,updated_at`

func scanSession(scan func(dest ...any) error) (domain.AssessmentSession, error) {
	var s domain.AssessmentSession
	var total sql.NullInt64
	var details, cats sql.NullString
	if err := scan(&s.ID, &s.SubjectID, &s.ToolName, &s.Date, &s.Status, &total, &s.ComputedLevel, &s.FinalLevel, &s.OverrideReason,
		&details, &cats, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	if total.Valid {
		n := int(total.Int64)
		s.TotalScore = &n
	}
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &s.Details); err != nil {
			return s, fmt.Errorf("session %s details: %w", s.ID, err)
		}
	}
	if cats.Valid {
		if err := json.Unmarshal([]byte(cats.String), &s.CategoryScores); err != nil {
			return s, fmt.Errorf("session %s categories: %w", s.ID, err)
		}
	}
	return s, nil
}

func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, id string) (domain.AssessmentSession, error) {
	s, err := scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionCols+` FROM assessment_sessions WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

type SessionFilters struct {
	SubjectID string
	ToolName  string
	Status    string
	Limit     int
}

func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.AssessmentSession, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, f.SubjectID)
	}
	if f.ToolName != "" {
		clauses = append(clauses, "tool_name=?")
		args = append(args, f.ToolName)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + sessionCols + ` FROM assessment_sessions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY date DESC, created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssessmentSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestCompletedSession returns the subject's most recent Completed session
// dated on or after since (YYYY-MM-DD).
func (r Repo) LatestCompletedSession(ctx context.Context, tx *sql.Tx, subjectID, since string) (domain.AssessmentSession, error) {
	s, err := scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionCols+` FROM assessment_sessions
WHERE subject_id=? AND status='Completed' AND date>=? ORDER BY date DESC, updated_at DESC LIMIT 1`, subjectID, since).Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// CompleteSession writes the scored result and marks the session Completed.
// It only touches sessions still in Draft.
func (r Repo) CompleteSession(ctx context.Context, tx *sql.Tx, s domain.AssessmentSession) error {
	details, err := json.Marshal(s.Details)
	if err != nil {
		return err
	}
	cats, err := json.Marshal(s.CategoryScores)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE assessment_sessions SET status='Completed', total_score=?, computed_level=?, final_level=?, override_reason=?,
  details_json=?, category_json=?, updated_at=? WHERE id=? AND status='Draft'`,
		nullableIntPtr(s.TotalScore), nullable(s.ComputedLevel), nullable(s.FinalLevel), nullable(s.OverrideReason), string(details), string(cats), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// UpsertAnswer stores one answer per (session, tag).
func (r Repo) UpsertAnswer(ctx context.Context, tx *sql.Tx, a domain.AssessmentAnswer) error {
	data, err := json.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("marshal answer %s: %w", a.QuestionTag, err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO assessment_answers(session_id,question_tag,value_json,is_imported,source_session_id) VALUES (?,?,?,?,?)
ON CONFLICT(session_id,question_tag) DO UPDATE SET value_json=excluded.value_json, is_imported=excluded.is_imported, source_session_id=excluded.source_session_id`,
		a.SessionID, a.QuestionTag, string(data), boolInt(a.IsImported), nullableStringPtr(a.SourceSessionID))
	return err
}

// ListAnswers returns a session's answers ordered by tag.
func (r Repo) ListAnswers(ctx context.Context, tx *sql.Tx, sessionID string) ([]domain.AssessmentAnswer, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT session_id,question_tag,value_json,is_imported,source_session_id FROM assessment_answers WHERE session_id=? ORDER BY question_tag`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssessmentAnswer
	for rows.Next() {
		var a domain.AssessmentAnswer
		var data string
		var imported int
		var source sql.NullString
		if err := rows.Scan(&a.SessionID, &a.QuestionTag, &data, &imported, &source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &a.Value); err != nil {
			return nil, fmt.Errorf("answer %s/%s: %w", sessionID, a.QuestionTag, err)
		}
		a.IsImported = imported == 1
		if source.Valid {
			a.SourceSessionID = &source.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
