package repo

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
)

func (r Repo) GetSettings(ctx context.Context, tx *sql.Tx, professionalID string) (domain.ProfessionalSettings, error) {
	s := domain.ProfessionalSettings{ProfessionalID: professionalID}
	err := r.q(tx).QueryRowContext(ctx, `SELECT min_notice_minutes,no_penalty_cancellation_window_minutes,updated_at FROM professional_settings WHERE professional_id=?`, professionalID).
		Scan(&s.MinNoticeMinutesForBooking, &s.NoPenaltyCancellationWindowMinutes, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpsertSettings(ctx context.Context, tx *sql.Tx, s domain.ProfessionalSettings) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO professional_settings(professional_id,min_notice_minutes,no_penalty_cancellation_window_minutes,updated_at) VALUES (?,?,?,?)
ON CONFLICT(professional_id) DO UPDATE SET min_notice_minutes=excluded.min_notice_minutes,
  no_penalty_cancellation_window_minutes=excluded.no_penalty_cancellation_window_minutes, updated_at=excluded.updated_at`,
		s.ProfessionalID, s.MinNoticeMinutesForBooking, s.NoPenaltyCancellationWindowMinutes, s.UpdatedAt)
	return wrapConstraint(err)
}
