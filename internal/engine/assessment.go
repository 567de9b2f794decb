package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/lookback"
	"caseflow/internal/metrics"
	"caseflow/internal/repo"
	"caseflow/internal/rules"
	"caseflow/internal/scoring"
)

const (
	SessionDraft     = "Draft"
	SessionCompleted = "Completed"
)

const defaultLookbackDays = 30

// AssessmentForm is a new Draft session with its prefilled questions.
type AssessmentForm struct {
	Session domain.AssessmentSession `json:"session"`
	Fields  []lookback.Field         `json:"fields"`
}

// InitAssessment opens a Draft session for subjectID dated today and
// prefills it from the case record and the latest completed assessment in
// the look-back window. Prefilled answers are stored as imported.
func (e Engine) InitAssessment(ctx context.Context, subjectID, tool, actorID string) (AssessmentForm, error) {
	if tool == "" {
		return AssessmentForm{}, invalid("tool_name", "required")
	}
	c, err := e.Repo.GetCase(ctx, nil, subjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return AssessmentForm{}, notFound("subject", subjectID)
	}
	if err != nil {
		return AssessmentForm{}, err
	}
	bank, err := e.Repo.ListQuestions(ctx)
	if err != nil {
		return AssessmentForm{}, fmt.Errorf("load question bank: %w", err)
	}
	questions := lookback.Applicable(bank, tool)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AssessmentForm{}, err
	}
	defer tx.Rollback()

	prior, err := e.priorAnswers(ctx, tx, subjectID)
	if err != nil {
		return AssessmentForm{}, err
	}
	fields := lookback.Resolve(questions, e.staticValues(c), prior)

	now := e.timestamp()
	s := domain.AssessmentSession{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		ToolName:  tool,
		Date:      e.today().Format(domain.DateLayout),
		Status:    SessionDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return AssessmentForm{}, fmt.Errorf("insert session: %w", err)
	}
	imported := 0
	for _, f := range fields {
		if !f.Imported {
			continue
		}
		a := domain.AssessmentAnswer{SessionID: s.ID, QuestionTag: f.Question.Tag, Value: f.Value, IsImported: true}
		if f.SourceSessionID != "" {
			src := f.SourceSessionID
			a.SourceSessionID = &src
		}
		if err := e.Repo.UpsertAnswer(ctx, tx, a); err != nil {
			return AssessmentForm{}, fmt.Errorf("save imported answer %s: %w", f.Question.Tag, err)
		}
		imported++
	}
	if err := e.events().Append(ctx, tx, events.AssessmentStarted, "assessment_session", s.ID, actorID, events.EventPayload{
		"subject_id": subjectID, "tool_name": tool, "questions": len(fields), "imported": imported,
	}); err != nil {
		return AssessmentForm{}, err
	}
	if err := tx.Commit(); err != nil {
		return AssessmentForm{}, err
	}
	return AssessmentForm{Session: s, Fields: fields}, nil
}

func (e Engine) priorAnswers(ctx context.Context, tx *sql.Tx, subjectID string) (*lookback.Prior, error) {
	days := e.Config.Assessment.LookbackDays
	if days <= 0 {
		days = defaultLookbackDays
	}
	since := e.today().AddDate(0, 0, -days).Format(domain.DateLayout)
	prev, err := e.Repo.LatestCompletedSession(ctx, tx, subjectID, since)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior assessment: %w", err)
	}
	answers, err := e.Repo.ListAnswers(ctx, tx, prev.ID)
	if err != nil {
		return nil, err
	}
	p := &lookback.Prior{SessionID: prev.ID, Date: prev.Date, Answers: map[string]any{}}
	for _, a := range answers {
		p.Answers[a.QuestionTag] = a.Value
	}
	return p, nil
}

// staticValues resolves the configured tag -> case field mapping.
func (e Engine) staticValues(c domain.Case) map[string]string {
	out := map[string]string{}
	for tag, name := range e.Config.Assessment.StaticFields {
		f, ok := rules.Lookup(name)
		if !ok {
			continue
		}
		if v, ok := f.Value(c); ok {
			out[tag] = v
		}
	}
	return out
}

// CreateAssessment opens a bare Draft session without prefilling.
func (e Engine) CreateAssessment(ctx context.Context, subjectID, tool, date, actorID string) (domain.AssessmentSession, error) {
	if tool == "" {
		return domain.AssessmentSession{}, invalid("tool_name", "required")
	}
	if date == "" {
		date = e.today().Format(domain.DateLayout)
	} else if _, err := rules.ParseDate(date); err != nil {
		return domain.AssessmentSession{}, invalid("date", "expected YYYY-MM-DD")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssessmentSession{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetOffender(ctx, tx, subjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.AssessmentSession{}, notFound("subject", subjectID)
		}
		return domain.AssessmentSession{}, err
	}
	now := e.timestamp()
	s := domain.AssessmentSession{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		ToolName:  tool,
		Date:      date[:len(domain.DateLayout)],
		Status:    SessionDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.AssessmentSession{}, err
	}
	if err := e.events().Append(ctx, tx, events.AssessmentStarted, "assessment_session", s.ID, actorID, events.EventPayload{
		"subject_id": subjectID, "tool_name": tool,
	}); err != nil {
		return domain.AssessmentSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AssessmentSession{}, err
	}
	return s, nil
}

func (e Engine) GetAssessment(ctx context.Context, sessionID string) (domain.AssessmentSession, []domain.AssessmentAnswer, error) {
	s, err := e.Repo.GetSession(ctx, nil, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, nil, notFound("session", sessionID)
	}
	if err != nil {
		return s, nil, err
	}
	answers, err := e.Repo.ListAnswers(ctx, nil, sessionID)
	return s, answers, err
}

func (e Engine) ListAssessments(ctx context.Context, f repo.SessionFilters) ([]domain.AssessmentSession, error) {
	return e.Repo.ListSessions(ctx, f)
}

// SaveAnswer upserts one answer on a Draft session. The stored answer is
// user-entered, so it loses any imported provenance.
func (e Engine) SaveAnswer(ctx context.Context, sessionID, tag string, value any, actorID string) (domain.AssessmentAnswer, error) {
	if tag == "" {
		return domain.AssessmentAnswer{}, invalid("tag", "required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssessmentAnswer{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSession(ctx, tx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.AssessmentAnswer{}, notFound("session", sessionID)
	}
	if err != nil {
		return domain.AssessmentAnswer{}, err
	}
	if s.Status == SessionCompleted {
		return domain.AssessmentAnswer{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionCompleted)
	}
	a := domain.AssessmentAnswer{SessionID: sessionID, QuestionTag: tag, Value: value}
	if err := e.Repo.UpsertAnswer(ctx, tx, a); err != nil {
		return domain.AssessmentAnswer{}, err
	}
	if err := e.events().Append(ctx, tx, events.AssessmentAnswered, "assessment_session", sessionID, actorID, events.EventPayload{"tag": tag}); err != nil {
		return domain.AssessmentAnswer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AssessmentAnswer{}, err
	}
	return a, nil
}

// PreviewScore scores the session's current answers without writing.
func (e Engine) PreviewScore(ctx context.Context, sessionID string) (scoring.Result, error) {
	s, err := e.Repo.GetSession(ctx, nil, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return scoring.Result{}, notFound("session", sessionID)
	}
	if err != nil {
		return scoring.Result{}, err
	}
	bank, err := e.Repo.QuestionBank(ctx)
	if err != nil {
		return scoring.Result{}, err
	}
	return e.score(ctx, nil, s, bank)
}

func (e Engine) score(ctx context.Context, tx *sql.Tx, s domain.AssessmentSession, bank map[string]domain.AssessmentQuestion) (scoring.Result, error) {
	answers, err := e.Repo.ListAnswers(ctx, tx, s.ID)
	if err != nil {
		return scoring.Result{}, err
	}
	var typ *domain.AssessmentType
	t, err := e.Repo.GetAssessmentType(ctx, tx, s.ToolName)
	switch {
	case err == nil:
		typ = &t
	case !errors.Is(err, repo.ErrNotFound):
		return scoring.Result{}, err
	}
	return scoring.Calculate(answers, bank, typ), nil
}

type SubmitOptions struct {
	SessionID      string
	FinalLevel     string
	OverrideReason string
	ActorID        string
}

// SubmitAssessment scores and completes a Draft session and propagates the
// final level to the subject's active episode, all in one transaction under
// the subject lock.
func (e Engine) SubmitAssessment(ctx context.Context, opts SubmitOptions) (domain.AssessmentSession, error) {
	s, err := e.Repo.GetSession(ctx, nil, opts.SessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, notFound("session", opts.SessionID)
	}
	if err != nil {
		return s, err
	}
	var out domain.AssessmentSession
	err = e.withSubjectLock(ctx, s.SubjectID, func() error {
		var err error
		out, err = e.submitLocked(ctx, opts)
		return err
	})
	if err != nil {
		return domain.AssessmentSession{}, err
	}
	metrics.RecordAssessmentSubmitted(ctx, out.ToolName, opts.FinalLevel != "")
	if opts.FinalLevel != "" && opts.FinalLevel != out.ComputedLevel {
		e.log(ctx).Info("assessment level overridden",
			"session", out.ID, "computed", out.ComputedLevel, "final", out.FinalLevel, "reason", out.OverrideReason)
	}
	return out, nil
}

func (e Engine) submitLocked(ctx context.Context, opts SubmitOptions) (domain.AssessmentSession, error) {
	bank, err := e.Repo.QuestionBank(ctx)
	if err != nil {
		return domain.AssessmentSession{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssessmentSession{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSession(ctx, tx, opts.SessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, notFound("session", opts.SessionID)
	}
	if err != nil {
		return s, err
	}
	if s.Status == SessionCompleted {
		return s, fmt.Errorf("session %s: %w", s.ID, ErrSessionCompleted)
	}
	res, err := e.score(ctx, tx, s, bank)
	if err != nil {
		return s, err
	}
	total := res.Total
	s.TotalScore = &total
	s.ComputedLevel = res.Level
	s.Details = res.PerQuestion
	s.CategoryScores = res.PerCategory
	s.FinalLevel = res.Level
	if opts.FinalLevel != "" {
		s.FinalLevel = opts.FinalLevel
		s.OverrideReason = opts.OverrideReason
	}
	s.Status = SessionCompleted
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.CompleteSession(ctx, tx, s); err != nil {
		return s, err
	}

	episodeID := ""
	ep, err := e.Repo.ActiveEpisode(ctx, tx, s.SubjectID)
	switch {
	case err == nil:
		if err := e.Repo.UpdateEpisodeRisk(ctx, tx, ep.ID, ep.Version, s.FinalLevel); err != nil {
			return s, conflictOnStale(err)
		}
		episodeID = ep.ID
	case errors.Is(err, repo.ErrNotFound):
		e.log(ctx).Debug("no active episode to update", "subject", s.SubjectID, "session", s.ID)
	default:
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.AssessmentSubmitted, "assessment_session", s.ID, opts.ActorID, events.EventPayload{
		"subject_id": s.SubjectID, "tool_name": s.ToolName, "total_score": total,
		"computed_level": s.ComputedLevel, "final_level": s.FinalLevel, "episode_id": episodeID,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func (e Engine) ListQuestions(ctx context.Context) ([]domain.AssessmentQuestion, error) {
	return e.Repo.ListQuestions(ctx)
}

// SaveQuestion creates or replaces a bank question keyed by tag.
func (e Engine) SaveQuestion(ctx context.Context, q domain.AssessmentQuestion, actorID string) (domain.AssessmentQuestion, error) {
	if q.SourceType == "" {
		q.SourceType = "manual"
	}
	if err := config.ValidateQuestion(q); err != nil {
		return q, invalid("question", err.Error())
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertQuestion(ctx, tx, q); err != nil {
		return q, err
	}
	if err := e.events().Append(ctx, tx, events.QuestionSaved, "assessment_question", q.Tag, actorID, events.EventPayload{
		"input_type": q.InputType, "source_type": q.SourceType, "applicable_tools": q.ApplicableTools,
	}); err != nil {
		return q, err
	}
	return q, tx.Commit()
}

func (e Engine) ListAssessmentTypes(ctx context.Context) ([]domain.AssessmentType, error) {
	return e.Repo.ListAssessmentTypes(ctx)
}

// SaveAssessmentType creates or replaces a tool's scoring matrix.
func (e Engine) SaveAssessmentType(ctx context.Context, t domain.AssessmentType, actorID string) (domain.AssessmentType, error) {
	if err := config.ValidateAssessmentType(t); err != nil {
		return t, invalid("assessment_type", err.Error())
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertAssessmentType(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.events().Append(ctx, tx, events.AssessmentTypeSaved, "assessment_type", t.Name, actorID, events.EventPayload{
		"bands": len(t.ScoringMatrix),
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}
