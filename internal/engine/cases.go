package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

type OfficerOptions struct {
	ID           string
	UserID       string
	SupervisorID string
	BadgeNumber  string
	FirstName    string
	LastName     string
	Location     string
}

// CreateOfficer registers the officer profile of a user account.
func (e Engine) CreateOfficer(ctx context.Context, opts OfficerOptions, actorID string) (domain.Officer, error) {
	if opts.UserID == "" {
		return domain.Officer{}, invalid("user_id", "required")
	}
	o := domain.Officer{
		ID:          opts.ID,
		UserID:      opts.UserID,
		BadgeNumber: opts.BadgeNumber,
		FirstName:   opts.FirstName,
		LastName:    opts.LastName,
		Location:    opts.Location,
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if opts.SupervisorID != "" {
		sup := opts.SupervisorID
		o.SupervisorID = &sup
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Officer{}, err
	}
	defer tx.Rollback()
	if o.SupervisorID != nil {
		if _, err := e.Repo.GetOfficer(ctx, tx, *o.SupervisorID); err != nil {
			return domain.Officer{}, fmt.Errorf("supervisor %s: %w", *o.SupervisorID, err)
		}
	}
	if err := e.Repo.InsertOfficer(ctx, tx, o); err != nil {
		return domain.Officer{}, fmt.Errorf("insert officer: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.OfficerCreated, "officer", o.ID, actorID, events.EventPayload{"user_id": o.UserID}); err != nil {
		return domain.Officer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Officer{}, err
	}
	return o, nil
}

type CaseOptions struct {
	Offender domain.Offender
	// Episode is opened as Active when StartDate is set.
	EpisodeStart     string
	OfficerID        string
	RiskLevelAtStart string
}

// CreateCase registers an offender and, optionally, its active episode.
func (e Engine) CreateCase(ctx context.Context, opts CaseOptions, actorID string) (domain.Case, error) {
	o := opts.Offender
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOffender(ctx, tx, o); err != nil {
		return domain.Case{}, fmt.Errorf("insert offender: %w", err)
	}
	c := domain.Case{Offender: o}
	if opts.EpisodeStart != "" {
		if opts.OfficerID != "" {
			if _, err := e.Repo.GetOfficer(ctx, tx, opts.OfficerID); err != nil {
				return domain.Case{}, fmt.Errorf("officer %s: %w", opts.OfficerID, err)
			}
		}
		ep := domain.Episode{
			ID:                uuid.NewString(),
			OffenderID:        o.ID,
			AssignedOfficerID: opts.OfficerID,
			StartDate:         opts.EpisodeStart,
			Status:            repo.EpisodeActive,
			RiskLevelAtStart:  opts.RiskLevelAtStart,
			Version:           1,
		}
		if err := e.Repo.InsertEpisode(ctx, tx, ep); err != nil {
			return domain.Case{}, fmt.Errorf("insert episode: %w", err)
		}
		c.Episode = &ep
	}
	if err := e.events().Append(ctx, tx, events.CaseCreated, "offender", o.ID, actorID, events.EventPayload{"active_episode": c.Episode != nil}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func (e Engine) GetCase(ctx context.Context, offenderID string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, nil, offenderID)
	if err == repo.ErrNotFound {
		return c, notFound("offender", offenderID)
	}
	return c, err
}

func (e Engine) ListCases(ctx context.Context) ([]domain.Case, error) {
	return e.Repo.ListCases(ctx)
}
