package auth

import (
	"context"
	"database/sql"
	"fmt"

	"bookline/internal/domain"
)

// ForbiddenError indicates the actor may not act for the professional.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves who may act on behalf of a professional.
type Service struct {
	DB *sql.DB
}

// ActsFor reports whether actor may exercise perm for professionalID: the
// professional themself, an admin, or a secretary holding the delegation.
func (s Service) ActsFor(ctx context.Context, tx *sql.Tx, actor domain.Actor, professionalID, perm string) (bool, error) {
	if actor.ID == "" {
		return false, nil
	}
	if actor.ID == professionalID || actor.Role == domain.RoleAdmin {
		return true, nil
	}
	if actor.Role != domain.RoleSecretary {
		return false, nil
	}
	var n int
	query := `SELECT count(*) FROM delegates WHERE professional_id=? AND delegate_id=? AND permission=?`
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, professionalID, actor.ID, perm).Scan(&n)
	} else {
		err = s.DB.QueryRowContext(ctx, query, professionalID, actor.ID, perm).Scan(&n)
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Require returns ForbiddenError when actor cannot act for professionalID.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actor domain.Actor, professionalID, perm string) error {
	ok, err := s.ActsFor(ctx, tx, actor, professionalID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// ActorPermissions lists the delegated permissions an actor holds for a professional.
func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, professionalID, actorID string) ([]string, error) {
	query := `SELECT permission FROM delegates WHERE professional_id=? AND delegate_id=? ORDER BY permission`
	var (
		rows *sql.Rows
		err  error
	)
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, professionalID, actorID)
	} else {
		rows, err = s.DB.QueryContext(ctx, query, professionalID, actorID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
