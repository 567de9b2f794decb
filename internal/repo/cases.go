package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseflow/internal/domain"
)

// ErrStaleVersion is returned when an episode changed since it was read.
var ErrStaleVersion = errors.New("stale episode version")

const EpisodeActive = "Active"

func (r Repo) InsertOfficer(ctx context.Context, tx *sql.Tx, o domain.Officer) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO officers(id,user_id,supervisor_id,badge_number,first_name,last_name,location) VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.UserID, nullableStringPtr(o.SupervisorID), o.BadgeNumber, o.FirstName, o.LastName, nullable(o.Location))
	return err
}

const officerCols = `id,user_id,supervisor_id,badge_number,first_name,last_name,COALESCE(location,'')`

func scanOfficer(row *sql.Row) (domain.Officer, error) {
	var o domain.Officer
	var sup sql.NullString
	err := row.Scan(&o.ID, &o.UserID, &sup, &o.BadgeNumber, &o.FirstName, &o.LastName, &o.Location)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if sup.Valid {
		o.SupervisorID = &sup.String
	}
	return o, err
}

func (r Repo) GetOfficer(ctx context.Context, tx *sql.Tx, id string) (domain.Officer, error) {
	return scanOfficer(r.q(tx).QueryRowContext(ctx, `SELECT `+officerCols+` FROM officers WHERE id=?`, id))
}

// OfficerByUser resolves the officer profile of a user account.
func (r Repo) OfficerByUser(ctx context.Context, tx *sql.Tx, userID string) (domain.Officer, error) {
	return scanOfficer(r.q(tx).QueryRowContext(ctx, `SELECT `+officerCols+` FROM officers WHERE user_id=?`, userID))
}

func (r Repo) InsertOffender(ctx context.Context, tx *sql.Tx, o domain.Offender) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO offenders(id,badge_id,first_name,last_name,dob,gender,release_date,csed_date,employment_status,special_flags,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.BadgeID, o.FirstName, o.LastName, nullable(o.DOB), nullable(o.Gender), nullable(o.ReleaseDate), nullable(o.CSEDDate),
		nullable(o.EmploymentStatus), nullable(o.SpecialFlags), o.CreatedAt)
	return err
}

const offenderCols = `o.id,o.badge_id,o.first_name,o.last_name,COALESCE(o.dob,''),COALESCE(o.gender,''),COALESCE(o.release_date,''),COALESCE(o.csed_date,''),COALESCE(o.employment_status,''),COALESCE(o.special_flags,''),o.created_at`

func offenderDest(o *domain.Offender) []any {
	return []any{&o.ID, &o.BadgeID, &o.FirstName, &o.LastName, &o.DOB, &o.Gender, &o.ReleaseDate, &o.CSEDDate, &o.EmploymentStatus, &o.SpecialFlags, &o.CreatedAt}
}

func (r Repo) GetOffender(ctx context.Context, tx *sql.Tx, id string) (domain.Offender, error) {
	var o domain.Offender
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+offenderCols+` FROM offenders o WHERE o.id=?`, id).Scan(offenderDest(&o)...)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertEpisode(ctx context.Context, tx *sql.Tx, e domain.Episode) error {
	if e.Version == 0 {
		e.Version = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO supervision_episodes(id,offender_id,assigned_officer_id,start_date,end_date,status,risk_level_at_start,current_risk_level,version)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.OffenderID, nullable(e.AssignedOfficerID), e.StartDate, nullable(e.EndDate), e.Status, e.RiskLevelAtStart, nullable(e.CurrentRiskLevel), e.Version)
	return err
}

const episodeCols = `e.id,e.offender_id,COALESCE(e.assigned_officer_id,''),e.start_date,COALESCE(e.end_date,''),e.status,e.risk_level_at_start,COALESCE(e.current_risk_level,''),e.version`

func episodeDest(e *domain.Episode) []any {
	return []any{&e.ID, &e.OffenderID, &e.AssignedOfficerID, &e.StartDate, &e.EndDate, &e.Status, &e.RiskLevelAtStart, &e.CurrentRiskLevel, &e.Version}
}

// ActiveEpisode returns the offender's active supervision episode.
func (r Repo) ActiveEpisode(ctx context.Context, tx *sql.Tx, offenderID string) (domain.Episode, error) {
	var e domain.Episode
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+episodeCols+` FROM supervision_episodes e WHERE e.offender_id=? AND e.status=?`, offenderID, EpisodeActive).
		Scan(episodeDest(&e)...)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// UpdateEpisodeRisk sets current_risk_level if the episode is still at
// version. It returns ErrStaleVersion otherwise.
func (r Repo) UpdateEpisodeRisk(ctx context.Context, tx *sql.Tx, id string, version int64, level string) error {
	return r.bumpEpisode(ctx, tx, `UPDATE supervision_episodes SET current_risk_level=?, version=version+1 WHERE id=? AND version=?`, level, id, version)
}

// ReassignEpisode moves the episode to officerID under the same version check.
func (r Repo) ReassignEpisode(ctx context.Context, tx *sql.Tx, id string, version int64, officerID string) error {
	return r.bumpEpisode(ctx, tx, `UPDATE supervision_episodes SET assigned_officer_id=?, version=version+1 WHERE id=? AND version=?`, officerID, id, version)
}

func (r Repo) bumpEpisode(ctx context.Context, tx *sql.Tx, query string, value, id string, version int64) error {
	res, err := r.q(tx).ExecContext(ctx, query, value, id, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s at version %d: %w", id, version, ErrStaleVersion)
	}
	return nil
}

// ListCases returns every offender with its active episode, if any.
func (r Repo) ListCases(ctx context.Context) ([]domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offenderCols+`,
  e.id,e.offender_id,e.assigned_officer_id,e.start_date,e.end_date,e.status,e.risk_level_at_start,e.current_risk_level,e.version
FROM offenders o
LEFT JOIN supervision_episodes e ON e.offender_id=o.id AND e.status=?
ORDER BY o.id`, EpisodeActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		var (
			id, offenderID, officer, start, end, status, atStart, current sql.NullString
			version                                                       sql.NullInt64
		)
		dest := append(offenderDest(&c.Offender), &id, &offenderID, &officer, &start, &end, &status, &atStart, &current, &version)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if id.Valid {
			c.Episode = &domain.Episode{
				ID:                id.String,
				OffenderID:        offenderID.String,
				AssignedOfficerID: officer.String,
				StartDate:         start.String,
				EndDate:           end.String,
				Status:            status.String,
				RiskLevelAtStart:  atStart.String,
				CurrentRiskLevel:  current.String,
				Version:           version.Int64,
			}
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// GetCase loads one offender and its active episode.
func (r Repo) GetCase(ctx context.Context, tx *sql.Tx, offenderID string) (domain.Case, error) {
	o, err := r.GetOffender(ctx, tx, offenderID)
	if err != nil {
		return domain.Case{}, err
	}
	c := domain.Case{Offender: o}
	ep, err := r.ActiveEpisode(ctx, tx, offenderID)
	switch {
	case err == nil:
		c.Episode = &ep
	case err != ErrNotFound:
		return domain.Case{}, err
	}
	return c, nil
}
