package engine

import (
	"context"
	"database/sql"
	"errors"

	"bookline/internal/domain"
	"bookline/internal/events"
	"bookline/internal/repo"
)

// Balance returns the pair's snapshot, zeroed when nothing was issued yet.
func (e Engine) Balance(ctx context.Context, professionalID, clientID string) (domain.CreditBalance, error) {
	return e.balanceTx(ctx, nil, professionalID, clientID)
}

func (e Engine) balanceTx(ctx context.Context, tx *sql.Tx, professionalID, clientID string) (domain.CreditBalance, error) {
	b, err := e.Repo.GetBalance(ctx, tx, professionalID, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.CreditBalance{ProfessionalID: professionalID, ClientID: clientID}, nil
	}
	return b, err
}

// ListBalances lists balances held with a professional, or by a client.
func (e Engine) ListBalances(ctx context.Context, professionalID, clientID string) ([]domain.CreditBalance, error) {
	if professionalID == "" && clientID == "" {
		return nil, invalid("professional_id", "professional_id or client_id is required")
	}
	return e.Repo.ListBalances(ctx, professionalID, clientID)
}

// IssueCredits applies a proposal's credits to the pair at most once.
func (e Engine) IssueCredits(ctx context.Context, proposalID, professionalID, clientID string, amount int, actorID string) (domain.CreditBalance, error) {
	unlock, err := e.lock(ctx, ledgerKey(professionalID, clientID))
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer tx.Rollback()

	if err := e.issueTx(ctx, tx, proposalID, professionalID, clientID, "", amount, actorID); err != nil {
		return domain.CreditBalance{}, err
	}
	b, err := e.balanceTx(ctx, tx, professionalID, clientID)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CreditBalance{}, err
	}
	return b, nil
}

// issueTx records the issuance and credits the pair. clientRole is the
// authenticated role of the accepting client, or empty when unknown.
func (e Engine) issueTx(ctx context.Context, tx *sql.Tx, proposalID, professionalID, clientID string, clientRole domain.Role, amount int, actorID string) (err error) {
	defer func() { e.Metrics.ObserveLedger("issue", err) }()
	if amount <= 0 {
		return InvalidAmountError{Amount: amount}
	}
	if err := requireID("proposal_id", proposalID); err != nil {
		return err
	}
	if err := requireID("professional_id", professionalID); err != nil {
		return err
	}
	if err := requireID("client_id", clientID); err != nil {
		return err
	}
	now := e.stamp()
	err = e.Repo.InsertIssuance(ctx, tx, domain.CreditIssuance{
		ProposalID:     proposalID,
		ProfessionalID: professionalID,
		ClientID:       clientID,
		Amount:         amount,
		ClientRole:     clientRole,
		CreatedAt:      now,
	})
	if errors.Is(err, repo.ErrConflict) {
		dup := DuplicateIssuanceError{ProposalID: proposalID}
		if prev, err := e.Repo.GetIssuance(ctx, tx, proposalID); err == nil {
			dup.Amount = prev.Amount
			dup.IssuedAt = prev.CreatedAt
		}
		return dup
	}
	if err != nil {
		return err
	}
	if err := e.Repo.AddIssued(ctx, tx, professionalID, clientID, clientRole, amount, now); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, events.LedgerIssued, events.KindLedger, ledgerKey(professionalID, clientID), actorID, events.EventPayload{
		"proposal_id": proposalID,
		"amount":      amount,
	})
}

// ConsumeCredits debits the pair; it never lets available go negative.
func (e Engine) ConsumeCredits(ctx context.Context, professionalID, clientID string, amount int, actorID string) (domain.CreditBalance, error) {
	unlock, err := e.lock(ctx, ledgerKey(professionalID, clientID))
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer tx.Rollback()

	if err := e.consumeTx(ctx, tx, professionalID, clientID, amount, actorID, ""); err != nil {
		return domain.CreditBalance{}, err
	}
	b, err := e.balanceTx(ctx, tx, professionalID, clientID)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CreditBalance{}, err
	}
	return b, nil
}

func (e Engine) consumeTx(ctx context.Context, tx *sql.Tx, professionalID, clientID string, amount int, actorID, appointmentID string) (err error) {
	defer func() { e.Metrics.ObserveLedger("consume", err) }()
	if amount <= 0 {
		return InvalidAmountError{Amount: amount}
	}
	err = e.Repo.Consume(ctx, tx, professionalID, clientID, amount, e.stamp())
	if errors.Is(err, repo.ErrInsufficient) {
		b, berr := e.balanceTx(ctx, tx, professionalID, clientID)
		if berr != nil {
			return berr
		}
		return InsufficientBalanceError{ProfessionalID: professionalID, ClientID: clientID, Available: b.Available, Requested: amount}
	}
	if err != nil {
		return err
	}
	payload := events.EventPayload{"amount": amount}
	if appointmentID != "" {
		payload["appointment_id"] = appointmentID
	}
	return e.Events.Append(ctx, tx, events.LedgerConsumed, events.KindLedger, ledgerKey(professionalID, clientID), actorID, payload)
}

// RefundCredits returns previously consumed credits to the pair.
func (e Engine) RefundCredits(ctx context.Context, professionalID, clientID string, amount int, actorID string) (domain.CreditBalance, error) {
	unlock, err := e.lock(ctx, ledgerKey(professionalID, clientID))
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	defer tx.Rollback()

	if err := e.refundTx(ctx, tx, professionalID, clientID, amount, actorID, ""); err != nil {
		return domain.CreditBalance{}, err
	}
	b, err := e.balanceTx(ctx, tx, professionalID, clientID)
	if err != nil {
		return domain.CreditBalance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CreditBalance{}, err
	}
	return b, nil
}

func (e Engine) refundTx(ctx context.Context, tx *sql.Tx, professionalID, clientID string, amount int, actorID, appointmentID string) (err error) {
	defer func() { e.Metrics.ObserveLedger("refund", err) }()
	if amount <= 0 {
		return InvalidAmountError{Amount: amount}
	}
	err = e.Repo.Refund(ctx, tx, professionalID, clientID, amount, e.stamp())
	if errors.Is(err, repo.ErrNotFound) {
		return InvalidStateError{Entity: "ledger", ID: ledgerKey(professionalID, clientID), Message: "refund would drive consumed below zero"}
	}
	if err != nil {
		return err
	}
	payload := events.EventPayload{"amount": amount}
	if appointmentID != "" {
		payload["appointment_id"] = appointmentID
	}
	return e.Events.Append(ctx, tx, events.LedgerRefunded, events.KindLedger, ledgerKey(professionalID, clientID), actorID, payload)
}
