package domain

import (
	"fmt"
	"strings"
)

// Role is the actor role supplied by the identity provider.
type Role string

const (
	RoleClient       Role = "cliente"
	RoleProfessional Role = "profissional"
	RoleDependent    Role = "dependente"
	RoleSecretary    Role = "secretaria"
	RoleAdmin        Role = "admin"
)

// ParseRole normalizes a role string and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleClient, RoleProfessional, RoleDependent, RoleSecretary, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the requester of an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

const (
	BlockSingleDay = "single_day"
	BlockDateRange = "date_range"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentConfirmed = "confirmed"
	AppointmentCancelled = "cancelled"
	AppointmentCompleted = "completed"
)

const (
	ProposalDraft    = "draft"
	ProposalSent     = "sent"
	ProposalAccepted = "accepted"
	ProposalRejected = "rejected"
)

const (
	SlotAvailable = "available"
	SlotBlocked   = "blocked"
	SlotOccupied  = "occupied"
)

// Delegate permissions.
const (
	PermNegotiateProposal = "negociarProposta"
	PermManageSchedule    = "gerenciarAgenda"
)

type TimeRange struct {
	Start string `json:"start" example:"09:00"`
	End   string `json:"end" example:"12:00"`
}

type ScheduleBlock struct {
	ID             string      `json:"id"`
	ProfessionalID string      `json:"professional_id"`
	Kind           string      `json:"kind" enum:"single_day,date_range"`
	StartDate      string      `json:"start_date" format:"date"`
	EndDate        string      `json:"end_date" format:"date"`
	TimeRanges     []TimeRange `json:"time_ranges"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
}

// WholeDay reports whether the block covers every slot of its days.
func (b ScheduleBlock) WholeDay() bool {
	return len(b.TimeRanges) == 0
}

type Appointment struct {
	ID             string  `json:"id"`
	ProfessionalID string  `json:"professional_id"`
	ClientID       string  `json:"client_id"`
	Date           string  `json:"date" format:"date"`
	Time           string  `json:"time" example:"14:00"`
	Title          string  `json:"title,omitempty"`
	Status         string  `json:"status" enum:"scheduled,confirmed,cancelled,completed"`
	CreditConsumed bool    `json:"credit_consumed"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	CancelledAt    *string `json:"cancelled_at,omitempty" format:"date-time"`
	CancelledBy    *string `json:"cancelled_by,omitempty"`
}

// Active reports whether the appointment still holds its slot.
func (a Appointment) Active() bool {
	return a.Status == AppointmentScheduled || a.Status == AppointmentConfirmed
}

// CreditBalance is the Gcoin balance of one (professional, client) pair.
type CreditBalance struct {
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	Issued         int    `json:"issued"`
	Consumed       int    `json:"consumed"`
	Available      int    `json:"available"`
	// ClientRole is the role the client held when accepting credits.
	ClientRole Role   `json:"client_role,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
}

// CreditIssuance records that a proposal's credits reached the ledger.
type CreditIssuance struct {
	ProposalID     string `json:"proposal_id"`
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	Amount         int    `json:"amount"`
	ClientRole     Role   `json:"client_role,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Proposal struct {
	ID                      string  `json:"id"`
	ProfessionalID          string  `json:"professional_id"`
	ClientID                string  `json:"client_id"`
	CreatedBy               string  `json:"created_by"`
	AgreedValueCents        int64   `json:"agreed_value_cents"`
	CreditsOffered          int     `json:"credits_offered"`
	Description             string  `json:"description,omitempty"`
	MinNoticeHours          int     `json:"min_notice_hours"`
	CancellationWindowHours int     `json:"cancellation_window_hours"`
	Status                  string  `json:"status" enum:"draft,sent,accepted,rejected"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
	SentAt                  *string `json:"sent_at,omitempty" format:"date-time"`
	RespondedAt             *string `json:"responded_at,omitempty" format:"date-time"`
}

type ProfessionalSettings struct {
	ProfessionalID                     string `json:"professional_id"`
	MinNoticeMinutesForBooking         int    `json:"min_notice_minutes_for_booking"`
	NoPenaltyCancellationWindowMinutes int    `json:"no_penalty_cancellation_window_minutes"`
	UpdatedAt                          string `json:"updated_at,omitempty" format:"date-time"`
}

type Delegate struct {
	ProfessionalID string `json:"professional_id"`
	DelegateID     string `json:"delegate_id"`
	Permission     string `json:"permission" enum:"negociarProposta,gerenciarAgenda"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
