package repo

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
)

// ErrInsufficient is returned when a conditional consume finds too few credits.
var ErrInsufficient = errors.New("insufficient balance")

func (r Repo) GetBalance(ctx context.Context, tx *sql.Tx, professionalID, clientID string) (domain.CreditBalance, error) {
	b := domain.CreditBalance{ProfessionalID: professionalID, ClientID: clientID}
	err := r.q(tx).QueryRowContext(ctx, `SELECT issued,consumed,available,client_role,updated_at FROM credit_balances WHERE professional_id=? AND client_id=?`,
		professionalID, clientID).Scan(&b.Issued, &b.Consumed, &b.Available, &b.ClientRole, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

// InsertIssuance claims a proposal's issuance. ErrConflict means it was
// already issued.
func (r Repo) InsertIssuance(ctx context.Context, tx *sql.Tx, iss domain.CreditIssuance) error {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO credit_issuances(proposal_id,professional_id,client_id,amount,client_role,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(proposal_id) DO NOTHING`, iss.ProposalID, iss.ProfessionalID, iss.ClientID, iss.Amount, string(iss.ClientRole), iss.CreatedAt)
	if err != nil {
		return wrapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// GetIssuance returns the issuance recorded for a proposal.
func (r Repo) GetIssuance(ctx context.Context, tx *sql.Tx, proposalID string) (domain.CreditIssuance, error) {
	var iss domain.CreditIssuance
	err := r.q(tx).QueryRowContext(ctx, `SELECT proposal_id,professional_id,client_id,amount,client_role,created_at FROM credit_issuances WHERE proposal_id=?`, proposalID).
		Scan(&iss.ProposalID, &iss.ProfessionalID, &iss.ClientID, &iss.Amount, &iss.ClientRole, &iss.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return iss, ErrNotFound
	}
	return iss, err
}

// AddIssued creates the balance row on first issuance. A dependente role,
// once recorded, is never replaced; an empty role keeps the stored one.
func (r Repo) AddIssued(ctx context.Context, tx *sql.Tx, professionalID, clientID string, clientRole domain.Role, amount int, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO credit_balances(professional_id,client_id,issued,consumed,available,client_role,updated_at) VALUES (?,?,?,0,?,?,?)
ON CONFLICT(professional_id,client_id) DO UPDATE SET issued=issued+excluded.issued, available=available+excluded.available,
  client_role=CASE WHEN credit_balances.client_role='dependente' OR excluded.client_role='' THEN credit_balances.client_role ELSE excluded.client_role END,
  updated_at=excluded.updated_at`,
		professionalID, clientID, amount, amount, string(clientRole), now)
	return wrapConstraint(err)
}

// Consume decrements available only if enough credits remain.
func (r Repo) Consume(ctx context.Context, tx *sql.Tx, professionalID, clientID string, amount int, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE credit_balances SET consumed=consumed+?, available=available-?, updated_at=?
WHERE professional_id=? AND client_id=? AND available>=?`, amount, amount, now, professionalID, clientID, amount)
	if err != nil {
		return wrapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficient
	}
	return nil
}

// Refund returns consumed credits; it never pushes consumed below zero.
func (r Repo) Refund(ctx context.Context, tx *sql.Tx, professionalID, clientID string, amount int, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE credit_balances SET consumed=consumed-?, available=available+?, updated_at=?
WHERE professional_id=? AND client_id=? AND consumed>=?`, amount, amount, now, professionalID, clientID, amount)
	if err != nil {
		return wrapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBalances returns balances for a professional or a client.
func (r Repo) ListBalances(ctx context.Context, professionalID, clientID string) ([]domain.CreditBalance, error) {
	query := `SELECT professional_id,client_id,issued,consumed,available,client_role,updated_at FROM credit_balances WHERE 1=1`
	var args []any
	if professionalID != "" {
		query += ` AND professional_id=?`
		args = append(args, professionalID)
	}
	if clientID != "" {
		query += ` AND client_id=?`
		args = append(args, clientID)
	}
	query += ` ORDER BY professional_id, client_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CreditBalance
	for rows.Next() {
		var b domain.CreditBalance
		if err := rows.Scan(&b.ProfessionalID, &b.ClientID, &b.Issued, &b.Consumed, &b.Available, &b.ClientRole, &b.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
