package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
)

// ProposalOptions are parameters for creating a proposal.
type ProposalOptions struct {
	ProfessionalID          string
	ClientID                string
	AgreedValueCents        int64
	CreditsOffered          int
	Description             string
	MinNoticeHours          int
	CancellationWindowHours int
	// Send moves the proposal straight to sent.
	Send  bool
	Actor domain.Actor
}

func ensureProposalTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.ProposalDraft:
		if newStatus == domain.ProposalSent {
			return nil
		}
	case domain.ProposalSent:
		if newStatus == domain.ProposalAccepted || newStatus == domain.ProposalRejected {
			return nil
		}
	}
	return fmt.Errorf("invalid proposal transition %s -> %s", oldStatus, newStatus)
}

// Clients and dependents never author proposals, whatever else they hold.
func (e Engine) requireNegotiator(ctx context.Context, actor domain.Actor, professionalID string) error {
	if actor.Role == domain.RoleClient || actor.Role == domain.RoleDependent {
		return auth.ForbiddenError{Permission: domain.PermNegotiateProposal}
	}
	return e.Auth.Require(ctx, nil, actor, professionalID, domain.PermNegotiateProposal)
}

func (e Engine) CreateProposal(ctx context.Context, opts ProposalOptions) (domain.Proposal, error) {
	if err := requireActor(opts.Actor); err != nil {
		return domain.Proposal{}, err
	}
	if err := requireID("professional_id", opts.ProfessionalID); err != nil {
		return domain.Proposal{}, err
	}
	if err := requireID("client_id", opts.ClientID); err != nil {
		return domain.Proposal{}, err
	}
	switch {
	case opts.ClientID == opts.ProfessionalID:
		return domain.Proposal{}, invalid("client_id", "must differ from professional_id")
	case opts.CreditsOffered <= 0:
		return domain.Proposal{}, invalid("credits_offered", "must be > 0")
	case opts.AgreedValueCents < 0:
		return domain.Proposal{}, invalid("agreed_value_cents", "must be >= 0")
	case opts.MinNoticeHours < 0:
		return domain.Proposal{}, invalid("min_notice_hours", "must be >= 0")
	case opts.CancellationWindowHours < 0:
		return domain.Proposal{}, invalid("cancellation_window_hours", "must be >= 0")
	}
	if err := e.requireNegotiator(ctx, opts.Actor, opts.ProfessionalID); err != nil {
		return domain.Proposal{}, err
	}
	now := e.stamp()
	p := domain.Proposal{
		ID:                      uuid.NewString(),
		ProfessionalID:          opts.ProfessionalID,
		ClientID:                opts.ClientID,
		CreatedBy:               opts.Actor.ID,
		AgreedValueCents:        opts.AgreedValueCents,
		CreditsOffered:          opts.CreditsOffered,
		Description:             opts.Description,
		MinNoticeHours:          opts.MinNoticeHours,
		CancellationWindowHours: opts.CancellationWindowHours,
		Status:                  domain.ProposalDraft,
		CreatedAt:               now,
	}
	if opts.Send {
		p.Status = domain.ProposalSent
		p.SentAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProposalCreated, events.KindProposal, p.ID, opts.Actor.ID, events.EventPayload{
		"professional_id": p.ProfessionalID,
		"client_id":       p.ClientID,
		"credits_offered": p.CreditsOffered,
		"status":          p.Status,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// SendProposal moves a draft to sent.
func (e Engine) SendProposal(ctx context.Context, id string, actor domain.Actor) (domain.Proposal, error) {
	if err := requireActor(actor); err != nil {
		return domain.Proposal{}, err
	}
	unlock, err := e.lock(ctx, proposalKey(id))
	if err != nil {
		return domain.Proposal{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, notFound(err, "proposal", id)
	}
	if actor.Role == domain.RoleClient || actor.Role == domain.RoleDependent {
		return domain.Proposal{}, auth.ForbiddenError{Permission: domain.PermNegotiateProposal}
	}
	if err := e.Auth.Require(ctx, tx, actor, p.ProfessionalID, domain.PermNegotiateProposal); err != nil {
		return domain.Proposal{}, err
	}
	if err := ensureProposalTransition(p.Status, domain.ProposalSent); err != nil {
		return domain.Proposal{}, InvalidStateError{Entity: "proposal", ID: id, Message: err.Error()}
	}
	now := e.stamp()
	if err := e.Repo.TransitionProposal(ctx, tx, id, p.Status, domain.ProposalSent, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProposalSent, events.KindProposal, id, actor.ID, nil); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.ProposalSent
	p.SentAt = &now
	return p, nil
}

// RespondProposal accepts or rejects a sent proposal on behalf of its client.
// Acceptance issues the offered credits in the same transaction.
func (e Engine) RespondProposal(ctx context.Context, id string, accept bool, actor domain.Actor) (p domain.Proposal, err error) {
	ctx, span := e.tracer().Start(ctx, "engine.RespondProposal")
	defer span.End()
	span.SetAttributes(attribute.String("proposal.id", id), attribute.Bool("proposal.accept", accept))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(Classify(err)))
		}
	}()

	if err := requireActor(actor); err != nil {
		return domain.Proposal{}, err
	}
	current, err := e.Repo.GetProposal(ctx, nil, id)
	if err != nil {
		return domain.Proposal{}, notFound(err, "proposal", id)
	}
	unlock, err := e.lock(ctx, proposalKey(id), ledgerKey(current.ProfessionalID, current.ClientID))
	if err != nil {
		return domain.Proposal{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	p, err = e.Repo.GetProposal(ctx, tx, id)
	if err != nil {
		return domain.Proposal{}, notFound(err, "proposal", id)
	}
	if actor.ID != p.ClientID {
		return domain.Proposal{}, auth.ForbiddenError{Permission: "proposal.respond"}
	}
	to := domain.ProposalRejected
	evt := events.ProposalRejected
	if accept {
		to = domain.ProposalAccepted
		evt = events.ProposalAccepted
	}
	if err := ensureProposalTransition(p.Status, to); err != nil {
		return domain.Proposal{}, InvalidStateError{Entity: "proposal", ID: id, Message: err.Error()}
	}
	now := e.stamp()
	if err := e.Repo.TransitionProposal(ctx, tx, id, domain.ProposalSent, to, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Proposal{}, InvalidStateError{Entity: "proposal", ID: id, Message: "no longer awaiting a response"}
		}
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, evt, events.KindProposal, id, actor.ID, events.EventPayload{
		"credits_offered": p.CreditsOffered,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if accept {
		err := e.issueTx(ctx, tx, p.ID, p.ProfessionalID, p.ClientID, actor.Role, p.CreditsOffered, actor.ID)
		var dup DuplicateIssuanceError
		if errors.As(err, &dup) {
			e.log().Info("proposal credits already issued", "proposal_id", id, "amount", dup.Amount, "issued_at", dup.IssuedAt)
		} else if err != nil {
			return domain.Proposal{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = to
	p.RespondedAt = &now
	e.log().Info("proposal answered", "proposal_id", id, "status", to, "credits", p.CreditsOffered)
	return p, nil
}

func (e Engine) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, nil, id)
	return p, notFound(err, "proposal", id)
}

func (e Engine) ListProposals(ctx context.Context, f repo.ProposalFilters) ([]domain.Proposal, error) {
	if f.ProfessionalID == "" && f.ClientID == "" {
		return nil, invalid("professional_id", "professional_id or client_id is required")
	}
	return e.Repo.ListProposals(ctx, f)
}
