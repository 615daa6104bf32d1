package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"bookline/internal/domain"
)

const blockColumns = `id,professional_id,kind,start_date,end_date,time_ranges_json,COALESCE(reason,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (domain.ScheduleBlock, error) {
	var b domain.ScheduleBlock
	var ranges string
	if err := row.Scan(&b.ID, &b.ProfessionalID, &b.Kind, &b.StartDate, &b.EndDate, &ranges, &b.Reason, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	if ranges != "" {
		if err := json.Unmarshal([]byte(ranges), &b.TimeRanges); err != nil {
			return b, err
		}
	}
	return b, nil
}

func (r Repo) InsertBlock(ctx context.Context, tx *sql.Tx, b domain.ScheduleBlock) error {
	ranges := b.TimeRanges
	if ranges == nil {
		ranges = []domain.TimeRange{}
	}
	payload, err := json.Marshal(ranges)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO schedule_blocks(id,professional_id,kind,start_date,end_date,time_ranges_json,reason,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.ProfessionalID, b.Kind, b.StartDate, b.EndDate, string(payload), nullable(b.Reason), b.CreatedAt)
	return wrapConstraint(err)
}

func (r Repo) GetBlock(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleBlock, error) {
	return scanBlock(r.q(tx).QueryRowContext(ctx, `SELECT `+blockColumns+` FROM schedule_blocks WHERE id=?`, id))
}

func (r Repo) DeleteBlock(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM schedule_blocks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BlocksOverlapping returns the professional's blocks intersecting the inclusive
// day range [from, to]. Empty bounds are open.
func (r Repo) BlocksOverlapping(ctx context.Context, tx *sql.Tx, professionalID, from, to string) ([]domain.ScheduleBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM schedule_blocks WHERE professional_id=?`
	args := []any{professionalID}
	if to != "" {
		query += ` AND start_date<=?`
		args = append(args, to)
	}
	if from != "" {
		query += ` AND end_date>=?`
		args = append(args, from)
	}
	query += ` ORDER BY start_date ASC, created_at ASC, id ASC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
