package engine

import (
	"errors"
	"fmt"

	"bookline/internal/engine/auth"
	"bookline/internal/lock"
	"bookline/internal/repo"
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type InvalidAmountError struct {
	Amount int
}

func (e InvalidAmountError) Error() string {
	return fmt.Sprintf("amount must be positive, got %d", e.Amount)
}

// DuplicateIssuanceError carries the issuance that already funded the ledger.
type DuplicateIssuanceError struct {
	ProposalID string
	Amount     int
	IssuedAt   string
}

func (e DuplicateIssuanceError) Error() string {
	return fmt.Sprintf("credits for proposal %s already issued", e.ProposalID)
}

type InsufficientBalanceError struct {
	ProfessionalID string
	ClientID       string
	Available      int
	Requested      int
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Saldo insuficiente: %d available, %d requested", e.Available, e.Requested)
}

type InvalidStateError struct {
	Entity  string
	ID      string
	Message string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
}

// SlotUnavailableError carries the slot status that refused the booking.
type SlotUnavailableError struct {
	ProfessionalID string
	Date           string
	Time           string
	Reason         string
}

func (e SlotUnavailableError) Error() string {
	if e.Reason == "blocked" {
		return fmt.Sprintf("slot %s %s is blocked by the professional", e.Date, e.Time)
	}
	return fmt.Sprintf("slot %s %s is already booked", e.Date, e.Time)
}

type NoticeTooShortError struct {
	RequiredMinutes int
	MinutesAhead    int
}

func (e NoticeTooShortError) Error() string {
	return fmt.Sprintf("booking needs at least %d minutes notice, slot is %d minutes ahead", e.RequiredMinutes, e.MinutesAhead)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// Class groups errors by how a caller should react.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassAuthorization Class = "authorization"
	ClassConflict      Class = "conflict"
	ClassNotFound      Class = "not_found"
	ClassInternal      Class = "internal"
)

// Classify maps an engine error onto the error taxonomy.
func Classify(err error) Class {
	var (
		validation   ValidationError
		amount       InvalidAmountError
		notice       NoticeTooShortError
		forbidden    auth.ForbiddenError
		insufficient InsufficientBalanceError
		slot         SlotUnavailableError
		duplicate    DuplicateIssuanceError
		state        InvalidStateError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation), errors.As(err, &amount), errors.As(err, &notice):
		return ClassValidation
	case errors.As(err, &forbidden):
		return ClassAuthorization
	case errors.As(err, &insufficient), errors.As(err, &slot), errors.As(err, &duplicate),
		errors.As(err, &state), errors.Is(err, lock.ErrTimeout), errors.Is(err, repo.ErrConflict):
		return ClassConflict
	case errors.Is(err, repo.ErrNotFound):
		return ClassNotFound
	}
	return ClassInternal
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return err
}
