package control

import "time"

// TicketState is the lifecycle state of a disconnect ticket.
// pending -> confirmed | failed; no other transitions exist.
type TicketState string

const (
	TicketPending   TicketState = "pending"
	TicketConfirmed TicketState = "confirmed"
	TicketFailed    TicketState = "failed"
)

// DisconnectTicket is the server-side record of one in-flight
// operator-initiated termination awaiting NAS confirmation. The ticket never
// mutates the session row itself; a failed ticket leaves the session exactly
// as the store reflects it.
type DisconnectTicket struct {
	ID          string      `json:"ticket_id"`
	SessionID   string      `json:"session_id"`
	State       TicketState `json:"state"`
	RequestedAt time.Time   `json:"requested_at"`

	// ResolvedAt is set when the ticket leaves pending.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// FailureReason is set only on failed tickets.
	FailureReason string `json:"failure_reason,omitempty"`
}

func (t *DisconnectTicket) terminal() bool {
	return t.State != TicketPending
}

// clone returns a copy safe to hand to callers outside the service lock.
func (t *DisconnectTicket) clone() *DisconnectTicket {
	c := *t
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
