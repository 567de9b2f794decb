package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/lock"
	"caseflow/internal/logger"
	"caseflow/internal/repo"
)

// SystemActor is recorded on events the engine emits on its own behalf.
const SystemActor = "system:automation"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Locker lock.Locker
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Locker: lock.NewMemory(cfg.LockWait()),
		Log:    logger.New(cfg.Log.Env),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) today() time.Time {
	t := e.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (e Engine) log(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l
	}
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// withSubjectLock runs fn while holding the subject's critical section.
func (e Engine) withSubjectLock(ctx context.Context, subjectID string, fn func() error) error {
	if e.Locker == nil || subjectID == "" {
		return fn()
	}
	release, err := e.Locker.Acquire(ctx, lock.SubjectKey(subjectID))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// ImportSummary counts what ImportCatalog wrote.
type ImportSummary struct {
	Rules           int `json:"rules"`
	Questions       int `json:"questions"`
	AssessmentTypes int `json:"assessment_types"`
	Templates       int `json:"templates"`
	Roles           int `json:"roles"`
}

// ImportCatalog upserts the configured rules, question bank, scoring matrices,
// templates and roles in one transaction.
func (e Engine) ImportCatalog(ctx context.Context, cfg *config.Config, actorID string) (ImportSummary, error) {
	if cfg == nil {
		cfg = e.Config
	}
	if err := cfg.Validate(); err != nil {
		return ImportSummary{}, err
	}
	var sum ImportSummary
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sum, err
	}
	defer tx.Rollback()

	for _, rc := range cfg.Catalog.Rules {
		r := rc.Rule()
		r.ID = uuid.NewString()
		if err := e.Repo.UpsertRule(ctx, tx, r); err != nil {
			return sum, fmt.Errorf("import rule %s: %w", r.Name, err)
		}
		sum.Rules++
	}
	for _, q := range cfg.Catalog.Questions {
		if err := e.Repo.UpsertQuestion(ctx, tx, q); err != nil {
			return sum, fmt.Errorf("import question %s: %w", q.Tag, err)
		}
		sum.Questions++
	}
	for _, t := range cfg.Catalog.AssessmentTypes {
		if err := e.Repo.UpsertAssessmentType(ctx, tx, t); err != nil {
			return sum, fmt.Errorf("import assessment type %s: %w", t.Name, err)
		}
		sum.AssessmentTypes++
	}
	for _, t := range cfg.Catalog.Templates {
		kind := t.Kind
		if kind == "" {
			kind = "generic"
		}
		if _, err := e.Repo.UpsertTemplate(ctx, tx, domain.FormTemplate{ID: uuid.NewString(), Name: t.Name, Kind: kind}); err != nil {
			return sum, fmt.Errorf("import template %s: %w", t.Name, err)
		}
		sum.Templates++
	}
	for id, role := range cfg.RBAC.Roles {
		if err := e.Repo.UpsertRole(ctx, tx, id, role.Description, role.Permissions); err != nil {
			return sum, fmt.Errorf("import role %s: %w", id, err)
		}
		sum.Roles++
	}
	if actorID == "" {
		actorID = SystemActor
	}
	if err := e.events().Append(ctx, tx, events.CatalogImported, "catalog", "", actorID, events.EventPayload{
		"rules": sum.Rules, "questions": sum.Questions, "assessment_types": sum.AssessmentTypes, "templates": sum.Templates, "roles": sum.Roles,
	}); err != nil {
		return sum, err
	}
	if err := tx.Commit(); err != nil {
		return sum, err
	}
	return sum, nil
}

// GrantRole assigns a stored role to an actor.
func (e Engine) GrantRole(ctx context.Context, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, repo.ErrNotFound)
	}
	if err := e.Repo.AssignRole(ctx, tx, actorID, roleID, e.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRole(ctx context.Context, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}
