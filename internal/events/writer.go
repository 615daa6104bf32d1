package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	BlockCreated         = "block.created"
	BlockRemoved         = "block.removed"
	LedgerIssued         = "ledger.issued"
	LedgerConsumed       = "ledger.consumed"
	LedgerRefunded       = "ledger.refunded"
	ProposalCreated      = "proposal.created"
	ProposalSent         = "proposal.sent"
	ProposalAccepted     = "proposal.accepted"
	ProposalRejected     = "proposal.rejected"
	AppointmentBooked    = "appointment.booked"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentConfirmed = "appointment.confirmed"
	AppointmentCompleted = "appointment.completed"
	SettingsUpdated      = "settings.updated"
	DelegateGranted      = "delegate.granted"
	DelegateRevoked      = "delegate.revoked"
)

// Entity kinds.
const (
	KindBlock       = "block"
	KindLedger      = "ledger"
	KindProposal    = "proposal"
	KindAppointment = "appointment"
	KindSettings    = "settings"
	KindDelegate    = "delegate"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction so it commits or
// rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if tx == nil {
		return fmt.Errorf("append %s: transaction required", evtType)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
