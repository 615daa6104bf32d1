package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bookline/internal/domain"
)

const appointmentColumns = `id,professional_id,client_id,date,time,COALESCE(title,''),status,credit_consumed,created_at,updated_at,cancelled_at,cancelled_by`

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var a domain.Appointment
	var consumed int
	var cancelledAt, cancelledBy sql.NullString
	err := row.Scan(&a.ID, &a.ProfessionalID, &a.ClientID, &a.Date, &a.Time, &a.Title, &a.Status, &consumed,
		&a.CreatedAt, &a.UpdatedAt, &cancelledAt, &cancelledBy)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.CreditConsumed = consumed != 0
	a.CancelledAt = stringPtr(cancelledAt)
	a.CancelledBy = stringPtr(cancelledBy)
	return a, nil
}

// InsertAppointment fails with ErrConflict when another active appointment
// already holds the slot.
func (r Repo) InsertAppointment(ctx context.Context, tx *sql.Tx, a domain.Appointment) error {
	consumed := 0
	if a.CreditConsumed {
		consumed = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO appointments(id,professional_id,client_id,date,time,title,status,credit_consumed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProfessionalID, a.ClientID, a.Date, a.Time, nullable(a.Title), a.Status, consumed, a.CreatedAt, a.UpdatedAt)
	return wrapConstraint(err)
}

func (r Repo) GetAppointment(ctx context.Context, tx *sql.Tx, id string) (domain.Appointment, error) {
	return scanAppointment(r.q(tx).QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id=?`, id))
}

// ActiveAppointmentAt returns the non-cancelled appointment holding the slot.
func (r Repo) ActiveAppointmentAt(ctx context.Context, tx *sql.Tx, professionalID, date, clock string) (domain.Appointment, error) {
	return scanAppointment(r.q(tx).QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments
WHERE professional_id=? AND date=? AND time=? AND status<>'cancelled' LIMIT 1`, professionalID, date, clock))
}

// OccupiedTimes lists the clock times held by active appointments on date.
func (r Repo) OccupiedTimes(ctx context.Context, tx *sql.Tx, professionalID, date string) (map[string]bool, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT time FROM appointments WHERE professional_id=? AND date=? AND status<>'cancelled'`, professionalID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]bool{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		res[t] = true
	}
	return res, rows.Err()
}

// UpdateAppointmentStatus moves an appointment from one of the given statuses.
// It returns ErrNotFound when no row in an allowed status matched.
func (r Repo) UpdateAppointmentStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string, from ...string) error {
	query := `UPDATE appointments SET status=?, updated_at=? WHERE id=?`
	args := []any{status, updatedAt, id}
	if len(from) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(from)-1) + `)`
		for _, f := range from {
			args = append(args, f)
		}
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return wrapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelAppointment marks an active appointment cancelled. creditConsumed is
// false when the credit went back to the client.
func (r Repo) CancelAppointment(ctx context.Context, tx *sql.Tx, id, cancelledBy, at string, creditConsumed bool) error {
	consumed := 0
	if creditConsumed {
		consumed = 1
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE appointments SET status='cancelled', credit_consumed=?, cancelled_at=?, cancelled_by=?, updated_at=?
WHERE id=? AND status IN ('scheduled','confirmed')`, consumed, at, cancelledBy, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type AppointmentFilters struct {
	ProfessionalID string
	ClientID       string
	Status         string
	From           string
	To             string
	Limit          int
}

func (r Repo) ListAppointments(ctx context.Context, f AppointmentFilters) ([]domain.Appointment, error) {
	var clauses []string
	var args []any
	if f.ProfessionalID != "" {
		clauses = append(clauses, "professional_id=?")
		args = append(args, f.ProfessionalID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.From != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "date<=?")
		args = append(args, f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments ` + where + ` ORDER BY date ASC, time ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
