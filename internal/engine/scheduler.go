package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bookline/internal/domain"
	"bookline/internal/engine/auth"
	"bookline/internal/events"
	"bookline/internal/repo"
	"bookline/internal/timerange"
)

// CanSchedule reports whether the requester may book the professional.
func (e Engine) CanSchedule(ctx context.Context, requesterID string, role domain.Role, professionalID string) (bool, error) {
	if !roleMaySchedule(requesterID, role, professionalID) {
		return false, nil
	}
	b, err := e.Balance(ctx, professionalID, requesterID)
	if err != nil {
		return false, err
	}
	return b.ClientRole != domain.RoleDependent && b.Available > 0, nil
}

// roleMaySchedule holds the balance-independent rules: dependents never
// book and nobody books their own calendar.
func roleMaySchedule(requesterID string, role domain.Role, professionalID string) bool {
	if requesterID == "" || professionalID == "" {
		return false
	}
	if role == domain.RoleDependent {
		return false
	}
	return requesterID != professionalID
}

// ledgerRoleMaySchedule applies the role recorded when the client accepted
// credits. A booking made for someone else has no other source for the
// client's role, so an unrecorded role on a funded ledger is rejected.
func ledgerRoleMaySchedule(bal domain.CreditBalance, onBehalf bool) bool {
	if bal.ClientRole == domain.RoleDependent {
		return false
	}
	return !onBehalf || bal.Issued == 0 || bal.ClientRole != ""
}

// BookOptions are parameters for booking a slot. BookedBy defaults to Client;
// when it differs it must manage the professional's schedule and Client.Role
// is ignored in favour of the role recorded on the ledger.
type BookOptions struct {
	ProfessionalID string
	Client         domain.Actor
	BookedBy       domain.Actor
	Date           string
	Time           string
	Title          string
}

// Book creates the appointment and debits one credit atomically. A missing
// or empty ledger is reported as InsufficientBalanceError (a conflict), not
// as ForbiddenError; role and self-booking rules are ForbiddenError.
func (e Engine) Book(ctx context.Context, opts BookOptions) (a domain.Appointment, err error) {
	started := time.Now()
	ctx, span := e.tracer().Start(ctx, "engine.Book")
	defer span.End()
	span.SetAttributes(
		attribute.String("professional.id", opts.ProfessionalID),
		attribute.String("client.id", opts.Client.ID),
		attribute.String("slot.date", opts.Date),
		attribute.String("slot.time", opts.Time),
	)
	defer func() {
		outcome := "booked"
		if err != nil {
			outcome = string(Classify(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			if outcome == string(ClassConflict) {
				e.log().Warn("booking conflict", "professional_id", opts.ProfessionalID, "client_id", opts.Client.ID,
					"date", opts.Date, "time", opts.Time, "error", err.Error())
			}
		}
		e.Metrics.ObserveBooking(outcome, time.Since(started).Seconds())
	}()

	onBehalf := opts.BookedBy.ID != "" && opts.BookedBy.ID != opts.Client.ID
	if !onBehalf {
		opts.BookedBy = opts.Client
		if err := requireActor(opts.Client); err != nil {
			return domain.Appointment{}, err
		}
	} else {
		if err := requireID("client_id", opts.Client.ID); err != nil {
			return domain.Appointment{}, err
		}
		if err := requireActor(opts.BookedBy); err != nil {
			return domain.Appointment{}, err
		}
		opts.Client.Role = ""
	}
	if err := requireID("professional_id", opts.ProfessionalID); err != nil {
		return domain.Appointment{}, err
	}
	if err := validateSlot(opts.Date, opts.Time); err != nil {
		return domain.Appointment{}, err
	}
	slotAt, err := timerange.Combine(opts.Date, opts.Time, e.location())
	if err != nil {
		return domain.Appointment{}, invalid("time", "%v", err)
	}

	unlock, err := e.lock(ctx, ledgerKey(opts.ProfessionalID, opts.Client.ID), slotKey(opts.ProfessionalID, opts.Date, opts.Time))
	if err != nil {
		return domain.Appointment{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Appointment{}, err
	}
	defer tx.Rollback()

	if onBehalf {
		if err := e.Auth.Require(ctx, tx, opts.BookedBy, opts.ProfessionalID, domain.PermManageSchedule); err != nil {
			return domain.Appointment{}, err
		}
	}
	if !roleMaySchedule(opts.Client.ID, opts.Client.Role, opts.ProfessionalID) {
		return domain.Appointment{}, auth.ForbiddenError{Permission: "appointment.schedule"}
	}
	bal, err := e.balanceTx(ctx, tx, opts.ProfessionalID, opts.Client.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !ledgerRoleMaySchedule(bal, onBehalf) {
		return domain.Appointment{}, auth.ForbiddenError{Permission: "appointment.schedule"}
	}
	if bal.Available <= 0 {
		return domain.Appointment{}, InsufficientBalanceError{ProfessionalID: opts.ProfessionalID, ClientID: opts.Client.ID, Available: bal.Available, Requested: 1}
	}

	status, err := e.slotStatusTx(ctx, tx, opts.ProfessionalID, opts.Date, opts.Time)
	if err != nil {
		return domain.Appointment{}, err
	}
	if status != domain.SlotAvailable {
		return domain.Appointment{}, SlotUnavailableError{ProfessionalID: opts.ProfessionalID, Date: opts.Date, Time: opts.Time, Reason: status}
	}

	settings, err := e.settingsTx(ctx, tx, opts.ProfessionalID)
	if err != nil {
		return domain.Appointment{}, err
	}
	ahead := slotAt.Sub(e.now())
	if ahead < time.Duration(settings.MinNoticeMinutesForBooking)*time.Minute {
		return domain.Appointment{}, NoticeTooShortError{
			RequiredMinutes: settings.MinNoticeMinutesForBooking,
			MinutesAhead:    int(ahead / time.Minute),
		}
	}

	now := e.stamp()
	a = domain.Appointment{
		ID:             uuid.NewString(),
		ProfessionalID: opts.ProfessionalID,
		ClientID:       opts.Client.ID,
		Date:           opts.Date,
		Time:           opts.Time,
		Title:          opts.Title,
		Status:         domain.AppointmentScheduled,
		CreditConsumed: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertAppointment(ctx, tx, a); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Appointment{}, SlotUnavailableError{ProfessionalID: opts.ProfessionalID, Date: opts.Date, Time: opts.Time, Reason: domain.SlotOccupied}
		}
		return domain.Appointment{}, err
	}
	if err := e.consumeTx(ctx, tx, opts.ProfessionalID, opts.Client.ID, 1, opts.BookedBy.ID, a.ID); err != nil {
		return domain.Appointment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AppointmentBooked, events.KindAppointment, a.ID, opts.BookedBy.ID, events.EventPayload{
		"professional_id": a.ProfessionalID,
		"client_id":       a.ClientID,
		"date":            a.Date,
		"time":            a.Time,
	}); err != nil {
		return domain.Appointment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Appointment{}, err
	}
	span.SetAttributes(attribute.String("appointment.id", a.ID))
	e.log().Info("appointment booked", "appointment_id", a.ID, "professional_id", a.ProfessionalID, "client_id", a.ClientID)
	return a, nil
}

// CancelResult tells the caller which credit branch the cancellation took.
type CancelResult struct {
	Appointment  domain.Appointment `json:"appointment"`
	Refunded     bool               `json:"refunded"`
	MinutesAhead int                `json:"minutes_ahead"`
}

// Cancel cancels an active appointment. The credit is refunded when the slot
// is at least the no-penalty window away, otherwise it is forfeited.
func (e Engine) Cancel(ctx context.Context, id string, actor domain.Actor) (res CancelResult, err error) {
	ctx, span := e.tracer().Start(ctx, "engine.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(Classify(err)))
		}
	}()

	if err := requireActor(actor); err != nil {
		return CancelResult{}, err
	}
	current, err := e.Repo.GetAppointment(ctx, nil, id)
	if err != nil {
		return CancelResult{}, notFound(err, "appointment", id)
	}
	unlock, err := e.lock(ctx, ledgerKey(current.ProfessionalID, current.ClientID))
	if err != nil {
		return CancelResult{}, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CancelResult{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAppointment(ctx, tx, id)
	if err != nil {
		return CancelResult{}, notFound(err, "appointment", id)
	}
	switch a.Status {
	case domain.AppointmentCancelled:
		return CancelResult{}, NotFoundError{Entity: "appointment", ID: id}
	case domain.AppointmentCompleted:
		return CancelResult{}, InvalidStateError{Entity: "appointment", ID: id, Message: "completed appointments cannot be cancelled"}
	}
	if actor.ID != a.ClientID {
		if err := e.Auth.Require(ctx, tx, actor, a.ProfessionalID, domain.PermManageSchedule); err != nil {
			return CancelResult{}, err
		}
	}
	settings, err := e.settingsTx(ctx, tx, a.ProfessionalID)
	if err != nil {
		return CancelResult{}, err
	}
	slotAt, err := timerange.Combine(a.Date, a.Time, e.location())
	if err != nil {
		return CancelResult{}, err
	}
	ahead := slotAt.Sub(e.now())
	window := time.Duration(settings.NoPenaltyCancellationWindowMinutes) * time.Minute
	refund := a.CreditConsumed && ahead >= window

	now := e.stamp()
	if err := e.Repo.CancelAppointment(ctx, tx, id, actor.ID, now, a.CreditConsumed && !refund); err != nil {
		return CancelResult{}, notFound(err, "appointment", id)
	}
	if refund {
		if err := e.refundTx(ctx, tx, a.ProfessionalID, a.ClientID, 1, actor.ID, a.ID); err != nil {
			return CancelResult{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.AppointmentCancelled, events.KindAppointment, id, actor.ID, events.EventPayload{
		"refunded":      refund,
		"minutes_ahead": int(ahead / time.Minute),
		"window":        settings.NoPenaltyCancellationWindowMinutes,
	}); err != nil {
		return CancelResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CancelResult{}, err
	}
	e.Metrics.ObserveCancellation(refund)
	if refund {
		e.log().Info("appointment cancelled, credit refunded", "appointment_id", id)
	} else {
		e.log().Info("appointment cancelled, credit forfeited", "appointment_id", id, "minutes_ahead", int(ahead/time.Minute))
	}

	a.Status = domain.AppointmentCancelled
	a.CreditConsumed = a.CreditConsumed && !refund
	a.CancelledAt = &now
	cancelledBy := actor.ID
	a.CancelledBy = &cancelledBy
	a.UpdatedAt = now
	return CancelResult{Appointment: a, Refunded: refund, MinutesAhead: int(ahead / time.Minute)}, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (e Engine) Confirm(ctx context.Context, id string, actor domain.Actor) (domain.Appointment, error) {
	return e.advanceAppointment(ctx, id, actor, domain.AppointmentConfirmed, events.AppointmentConfirmed)
}

// Complete marks a scheduled or confirmed appointment as completed.
func (e Engine) Complete(ctx context.Context, id string, actor domain.Actor) (domain.Appointment, error) {
	return e.advanceAppointment(ctx, id, actor, domain.AppointmentCompleted, events.AppointmentCompleted)
}

func ensureAppointmentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.AppointmentScheduled:
		if newStatus == domain.AppointmentConfirmed || newStatus == domain.AppointmentCompleted || newStatus == domain.AppointmentCancelled {
			return nil
		}
	case domain.AppointmentConfirmed:
		if newStatus == domain.AppointmentCompleted || newStatus == domain.AppointmentCancelled {
			return nil
		}
	}
	return errors.New("invalid appointment transition " + oldStatus + " -> " + newStatus)
}

func (e Engine) advanceAppointment(ctx context.Context, id string, actor domain.Actor, to, evt string) (domain.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return domain.Appointment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Appointment{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAppointment(ctx, tx, id)
	if err != nil {
		return domain.Appointment{}, notFound(err, "appointment", id)
	}
	if err := e.Auth.Require(ctx, tx, actor, a.ProfessionalID, domain.PermManageSchedule); err != nil {
		return domain.Appointment{}, err
	}
	if err := ensureAppointmentTransition(a.Status, to); err != nil {
		return domain.Appointment{}, InvalidStateError{Entity: "appointment", ID: id, Message: err.Error()}
	}
	now := e.stamp()
	if err := e.Repo.UpdateAppointmentStatus(ctx, tx, id, to, now, a.Status); err != nil {
		return domain.Appointment{}, notFound(err, "appointment", id)
	}
	if err := e.Events.Append(ctx, tx, evt, events.KindAppointment, id, actor.ID, events.EventPayload{"from": a.Status}); err != nil {
		return domain.Appointment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Appointment{}, err
	}
	a.Status = to
	a.UpdatedAt = now
	return a, nil
}

func (e Engine) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	a, err := e.Repo.GetAppointment(ctx, nil, id)
	return a, notFound(err, "appointment", id)
}

func (e Engine) ListAppointments(ctx context.Context, f repo.AppointmentFilters) ([]domain.Appointment, error) {
	if f.ProfessionalID == "" && f.ClientID == "" {
		return nil, invalid("professional_id", "professional_id or client_id is required")
	}
	return e.Repo.ListAppointments(ctx, f)
}
