package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bookline/internal/domain"
)

const proposalColumns = `id,professional_id,client_id,created_by,agreed_value_cents,credits_offered,COALESCE(description,''),min_notice_hours,cancellation_window_hours,status,created_at,sent_at,responded_at`

func scanProposal(row rowScanner) (domain.Proposal, error) {
	var p domain.Proposal
	var sentAt, respondedAt sql.NullString
	err := row.Scan(&p.ID, &p.ProfessionalID, &p.ClientID, &p.CreatedBy, &p.AgreedValueCents, &p.CreditsOffered, &p.Description,
		&p.MinNoticeHours, &p.CancellationWindowHours, &p.Status, &p.CreatedAt, &sentAt, &respondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.SentAt = stringPtr(sentAt)
	p.RespondedAt = stringPtr(respondedAt)
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO proposals(id,professional_id,client_id,created_by,agreed_value_cents,credits_offered,description,min_notice_hours,cancellation_window_hours,status,created_at,sent_at,responded_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProfessionalID, p.ClientID, p.CreatedBy, p.AgreedValueCents, p.CreditsOffered, nullable(p.Description),
		p.MinNoticeHours, p.CancellationWindowHours, p.Status, p.CreatedAt, nullableStringPtr(p.SentAt), nullableStringPtr(p.RespondedAt))
	return wrapConstraint(err)
}

func (r Repo) GetProposal(ctx context.Context, tx *sql.Tx, id string) (domain.Proposal, error) {
	return scanProposal(r.q(tx).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

// TransitionProposal moves a proposal out of status from. It returns
// ErrNotFound when the row is missing or no longer in that status.
func (r Repo) TransitionProposal(ctx context.Context, tx *sql.Tx, id, from, to, at string) error {
	column := "responded_at"
	if to == domain.ProposalSent {
		column = "sent_at"
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE proposals SET status=?, `+column+`=? WHERE id=? AND status=?`, to, at, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ProposalFilters struct {
	ProfessionalID string
	ClientID       string
	Status         string
	Limit          int
}

func (r Repo) ListProposals(ctx context.Context, f ProposalFilters) ([]domain.Proposal, error) {
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
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + proposalColumns + ` FROM proposals ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
