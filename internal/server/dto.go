package server

import (
	"bookline/internal/domain"
	"bookline/internal/engine"
)

// Request payloads

type CreateBlockRequest struct {
	Kind       string             `json:"kind,omitempty" enum:"single_day,date_range"`
	StartDate  string             `json:"start_date" format:"date"`
	EndDate    string             `json:"end_date,omitempty" format:"date"`
	TimeRanges []domain.TimeRange `json:"time_ranges,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

type UpdateSettingsRequest struct {
	MinNoticeMinutesForBooking         *int `json:"min_notice_minutes_for_booking,omitempty" minimum:"0"`
	NoPenaltyCancellationWindowMinutes *int `json:"no_penalty_cancellation_window_minutes,omitempty" minimum:"0"`
}

type GrantDelegateRequest struct {
	DelegateID   string `json:"delegate_id"`
	DelegateRole string `json:"delegate_role,omitempty" enum:"secretaria"`
	Permission   string `json:"permission" enum:"negociarProposta,gerenciarAgenda"`
}

type CreateProposalRequest struct {
	ProfessionalID          string `json:"professional_id"`
	ClientID                string `json:"client_id"`
	AgreedValueCents        int64  `json:"agreed_value_cents,omitempty" minimum:"0"`
	CreditsOffered          int    `json:"credits_offered" minimum:"1"`
	Description             string `json:"description,omitempty"`
	MinNoticeHours          int    `json:"min_notice_hours,omitempty" minimum:"0"`
	CancellationWindowHours int    `json:"cancellation_window_hours,omitempty" minimum:"0"`
	Send                    bool   `json:"send,omitempty"`
}

type RespondProposalRequest struct {
	Accept bool `json:"accept"`
}

type BookRequest struct {
	ProfessionalID string `json:"professional_id"`
	// ClientID books on behalf of a client; defaults to the caller.
	ClientID string `json:"client_id,omitempty"`
	Date     string `json:"date" format:"date"`
	Time     string `json:"time" example:"14:00"`
	Title    string `json:"title,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"cliente,profissional,dependente,secretaria,admin"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role"`
	Source  string      `json:"source"`
}

type SlotStatusResponse struct {
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date" format:"date"`
	Time           string `json:"time"`
	Status         string `json:"status" enum:"available,blocked,occupied"`
}

type CanScheduleResponse struct {
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	CanSchedule    bool   `json:"can_schedule"`
	Available      int    `json:"available"`
}

type DelegatePermissionsResponse struct {
	ProfessionalID string   `json:"professional_id"`
	DelegateID     string   `json:"delegate_id"`
	Permissions    []string `json:"permissions"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type CancelResponse = engine.CancelResult

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
