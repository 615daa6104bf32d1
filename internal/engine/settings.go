package engine

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
	"bookline/internal/events"
	"bookline/internal/repo"
)

// GetSettings returns the professional's settings or the configured defaults.
func (e Engine) GetSettings(ctx context.Context, professionalID string) (domain.ProfessionalSettings, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	return e.settingsTx(ctx, nil, professionalID)
}

func (e Engine) settingsTx(ctx context.Context, tx *sql.Tx, professionalID string) (domain.ProfessionalSettings, error) {
	s, err := e.Repo.GetSettings(ctx, tx, professionalID)
	if errors.Is(err, repo.ErrNotFound) {
		d := e.Config.Scheduling.Defaults
		return domain.ProfessionalSettings{
			ProfessionalID:                     professionalID,
			MinNoticeMinutesForBooking:         d.MinNoticeMinutes,
			NoPenaltyCancellationWindowMinutes: d.NoPenaltyCancellationWindowMinutes,
		}, nil
	}
	return s, err
}

// SettingsUpdate changes only the fields that are set.
type SettingsUpdate struct {
	ProfessionalID                     string
	MinNoticeMinutesForBooking         *int
	NoPenaltyCancellationWindowMinutes *int
	Actor                              domain.Actor
}

func (e Engine) UpdateSettings(ctx context.Context, u SettingsUpdate) (domain.ProfessionalSettings, error) {
	if err := requireActor(u.Actor); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	if err := requireID("professional_id", u.ProfessionalID); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	if u.MinNoticeMinutesForBooking != nil && *u.MinNoticeMinutesForBooking < 0 {
		return domain.ProfessionalSettings{}, invalid("min_notice_minutes_for_booking", "must be >= 0")
	}
	if u.NoPenaltyCancellationWindowMinutes != nil && *u.NoPenaltyCancellationWindowMinutes < 0 {
		return domain.ProfessionalSettings{}, invalid("no_penalty_cancellation_window_minutes", "must be >= 0")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProfessionalSettings{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, u.Actor, u.ProfessionalID, domain.PermManageSchedule); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	s, err := e.settingsTx(ctx, tx, u.ProfessionalID)
	if err != nil {
		return domain.ProfessionalSettings{}, err
	}
	if u.MinNoticeMinutesForBooking != nil {
		s.MinNoticeMinutesForBooking = *u.MinNoticeMinutesForBooking
	}
	if u.NoPenaltyCancellationWindowMinutes != nil {
		s.NoPenaltyCancellationWindowMinutes = *u.NoPenaltyCancellationWindowMinutes
	}
	s.UpdatedAt = e.stamp()
	if err := e.Repo.UpsertSettings(ctx, tx, s); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SettingsUpdated, events.KindSettings, s.ProfessionalID, u.Actor.ID, events.EventPayload{
		"min_notice_minutes_for_booking":         s.MinNoticeMinutesForBooking,
		"no_penalty_cancellation_window_minutes": s.NoPenaltyCancellationWindowMinutes,
	}); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProfessionalSettings{}, err
	}
	return s, nil
}
