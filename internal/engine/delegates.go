package engine

import (
	"context"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
)

// DelegateOptions grant or revoke one permission for a secretary.
type DelegateOptions struct {
	ProfessionalID string
	Delegate       domain.Actor
	Permission     string
	Actor          domain.Actor
}

func (e Engine) checkDelegate(opts DelegateOptions) error {
	if err := requireActor(opts.Actor); err != nil {
		return err
	}
	if err := requireID("professional_id", opts.ProfessionalID); err != nil {
		return err
	}
	if err := requireID("delegate_id", opts.Delegate.ID); err != nil {
		return err
	}
	if opts.Delegate.ID == opts.ProfessionalID {
		return invalid("delegate_id", "a professional cannot delegate to themself")
	}
	if !e.Config.HasPermission(opts.Permission) {
		return invalid("permission", "unknown permission %q", opts.Permission)
	}
	if opts.Actor.ID != opts.ProfessionalID {
		return auth.ForbiddenError{Permission: "delegation.manage"}
	}
	return nil
}

// GrantDelegate lets a secretary act for the professional.
func (e Engine) GrantDelegate(ctx context.Context, opts DelegateOptions) (domain.Delegate, error) {
	if err := e.checkDelegate(opts); err != nil {
		return domain.Delegate{}, err
	}
	if opts.Delegate.Role != domain.RoleSecretary {
		return domain.Delegate{}, invalid("delegate_role", "delegates must have role %s", domain.RoleSecretary)
	}
	d := domain.Delegate{
		ProfessionalID: opts.ProfessionalID,
		DelegateID:     opts.Delegate.ID,
		Permission:     opts.Permission,
		CreatedAt:      e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delegate{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.GrantDelegate(ctx, tx, d); err != nil {
		return domain.Delegate{}, err
	}
	if err := e.Events.Append(ctx, tx, events.DelegateGranted, events.KindDelegate, d.DelegateID, opts.Actor.ID, events.EventPayload{
		"professional_id": d.ProfessionalID,
		"permission":      d.Permission,
	}); err != nil {
		return domain.Delegate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Delegate{}, err
	}
	return d, nil
}

func (e Engine) RevokeDelegate(ctx context.Context, opts DelegateOptions) error {
	if err := e.checkDelegate(opts); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeDelegate(ctx, tx, opts.ProfessionalID, opts.Delegate.ID, opts.Permission); err != nil {
		return notFound(err, "delegation", opts.Delegate.ID+"/"+opts.Permission)
	}
	if err := e.Events.Append(ctx, tx, events.DelegateRevoked, events.KindDelegate, opts.Delegate.ID, opts.Actor.ID, events.EventPayload{
		"professional_id": opts.ProfessionalID,
		"permission":      opts.Permission,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListDelegates(ctx context.Context, professionalID string) ([]domain.Delegate, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return nil, err
	}
	return e.Repo.ListDelegates(ctx, professionalID)
}

// DelegatePermissions lists what delegateID may do for the professional.
func (e Engine) DelegatePermissions(ctx context.Context, professionalID, delegateID string) ([]string, error) {
	if err := requireID("professional_id", professionalID); err != nil {
		return nil, err
	}
	if err := requireID("delegate_id", delegateID); err != nil {
		return nil, err
	}
	return e.Auth.ActorPermissions(ctx, nil, professionalID, delegateID)
}
