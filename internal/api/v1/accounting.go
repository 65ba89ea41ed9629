package v1

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Acct-Status-Type values accepted on the accounting endpoint.
// Names follow RFC 2866 so NAS-side integrations can pass the
// attribute value through unchanged.
const (
	StatusStart         = "Start"
	StatusInterimUpdate = "Interim-Update"
	StatusStop          = "Stop"
)

// AccountingEvent is the inbound accounting envelope.
// One endpoint carries all three lifecycle events; StatusType decides
// which fields are required.
type AccountingEvent struct {
	// SessionID is the NAS-issued accounting session identifier.
	// It is globally unique and immutable for the life of the session.
	SessionID string `json:"session_id"`

	// Username is the subscriber that owns the session. A user may hold
	// several concurrent sessions, each under its own SessionID.
	Username string `json:"username"`

	// NASIPAddress and NASPort identify the access device terminating
	// the session.
	NASIPAddress string `json:"nas_ip_address"`
	NASPort      int    `json:"nas_port"`

	// StatusType is one of StatusStart, StatusInterimUpdate, StatusStop.
	StatusType string `json:"status_type"`

	// EventTime is the NAS-side clock for this event. For Start events it
	// becomes the session start_time; for Stop events the stop_time.
	EventTime time.Time `json:"event_time"`

	// Cumulative traffic counters as reported by the NAS. Only meaningful
	// for Interim-Update and Stop events.
	InputOctets  int64 `json:"input_octets"`
	OutputOctets int64 `json:"output_octets"`

	// SessionTime is the NAS-reported session duration in seconds. It only
	// increases over a session's lifetime, which makes it the ordering
	// indicator for interim updates.
	SessionTime int64 `json:"session_time"`

	// TerminateCause is set on Stop events (e.g. "User-Request",
	// "Lost-Carrier", "Admin-Reset").
	TerminateCause string `json:"terminate_cause,omitempty"`

	// ReceivedAt is when this service received the event. Set server-side,
	// never by the NAS.
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the envelope for the declared status type.
func (e *AccountingEvent) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	switch e.StatusType {
	case StatusStart:
		if e.Username == "" {
			return fmt.Errorf("username is required for Start")
		}
		if e.NASIPAddress == "" {
			return fmt.Errorf("nas_ip_address is required for Start")
		}
		if net.ParseIP(e.NASIPAddress) == nil {
			return fmt.Errorf("nas_ip_address %q is not a valid IP address", e.NASIPAddress)
		}
		if e.NASPort < 0 {
			return fmt.Errorf("nas_port must be >= 0")
		}
	case StatusInterimUpdate:
		if e.SessionTime <= 0 {
			return fmt.Errorf("session_time must be > 0 for Interim-Update")
		}
	case StatusStop:
		if e.TerminateCause == "" {
			return fmt.Errorf("terminate_cause is required for Stop")
		}
	case "":
		return fmt.Errorf("status_type is required")
	default:
		return fmt.Errorf("unknown status_type %q", e.StatusType)
	}

	if e.EventTime.IsZero() {
		return fmt.Errorf("event_time is required")
	}
	if e.InputOctets < 0 || e.OutputOctets < 0 {
		return fmt.Errorf("octet counters must be >= 0")
	}
	if e.SessionTime < 0 {
		return fmt.Errorf("session_time must be >= 0")
	}

	return nil
}

// AccountingSession is the stored session row. Raw integers only; byte and
// duration formatting belongs to the presentation layer.
type AccountingSession struct {
	SessionID    string `json:"session_id"`
	Username     string `json:"username"`
	NASIPAddress string `json:"nas_ip_address"`
	NASPort      int    `json:"nas_port"`

	// StartTime is set once at creation and never changes.
	StartTime time.Time `json:"start_time"`

	// StopTime is nil while the session is active and set exactly once
	// on termination. A terminated session accepts no further updates.
	StopTime *time.Time `json:"stop_time,omitempty"`

	// Cumulative counters. Never decrease across accepted updates.
	InputOctets  int64 `json:"input_octets"`
	OutputOctets int64 `json:"output_octets"`

	// SessionTime is the duration in seconds: NAS-reported while active,
	// stop_time - start_time once stopped.
	SessionTime int64 `json:"session_time"`

	TerminateCause string `json:"terminate_cause,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the session has not yet terminated.
func (s *AccountingSession) IsActive() bool {
	return s.StopTime == nil
}

// TotalOctets is input + output traffic.
func (s *AccountingSession) TotalOctets() int64 {
	return s.InputOctets + s.OutputOctets
}

// MarshalJSON adds the derived is_active and total_octets fields so API
// consumers never re-derive them client-side.
func (s *AccountingSession) MarshalJSON() ([]byte, error) {
	type alias AccountingSession
	return json.Marshal(struct {
		*alias
		IsActive    bool  `json:"is_active"`
		TotalOctets int64 `json:"total_octets"`
	}{
		alias:       (*alias)(s),
		IsActive:    s.IsActive(),
		TotalOctets: s.TotalOctets(),
	})
}
