package repo

import (
	"context"
	"database/sql"

	"bookline/internal/domain"
)

func (r Repo) GrantDelegate(ctx context.Context, tx *sql.Tx, d domain.Delegate) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO delegates(professional_id, delegate_id, permission, created_at) VALUES (?,?,?,?)`,
		d.ProfessionalID, d.DelegateID, d.Permission, d.CreatedAt)
	return wrapConstraint(err)
}

func (r Repo) RevokeDelegate(ctx context.Context, tx *sql.Tx, professionalID, delegateID, permission string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM delegates WHERE professional_id=? AND delegate_id=? AND permission=?`,
		professionalID, delegateID, permission)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasDelegation(ctx context.Context, tx *sql.Tx, professionalID, delegateID, permission string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM delegates WHERE professional_id=? AND delegate_id=? AND permission=?`,
		professionalID, delegateID, permission).Scan(&n)
	return n > 0, err
}

func (r Repo) ListDelegates(ctx context.Context, professionalID string) ([]domain.Delegate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT professional_id, delegate_id, permission, created_at FROM delegates WHERE professional_id=? ORDER BY delegate_id, permission`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delegate
	for rows.Next() {
		var d domain.Delegate
		if err := rows.Scan(&d.ProfessionalID, &d.DelegateID, &d.Permission, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
