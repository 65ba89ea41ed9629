package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateSession is returned by BeginSession when a session with
	// the same session_id already exists (active or terminated).
	ErrDuplicateSession = errors.New("accounting session already exists")

	// ErrSessionNotFound is returned when no row exists for a session_id.
	ErrSessionNotFound = errors.New("accounting session not found")

	// ErrSessionTerminated is returned by ApplyInterimUpdate when the
	// session already has a stop_time. Terminal rows accept no updates.
	ErrSessionTerminated = errors.New("accounting session already terminated")

	// ErrConflictingStop is returned by EndSession when the session is
	// already terminated with different stop_time/terminate_cause than the
	// repeated call carries. An identical repeat is idempotent, not an error.
	ErrConflictingStop = errors.New("conflicting stop for terminated session")
)

// BeginParams creates a new active session row.
type BeginParams struct {
	SessionID    string
	Username     string
	NASIPAddress string
	NASPort      int
	StartTime    time.Time
}

// InterimParams carries NAS-reported cumulative counters. SessionTime is the
// ordering indicator: an update whose SessionTime is <= the stored value is
// stale and must be discarded without touching the row.
type InterimParams struct {
	SessionID    string
	InputOctets  int64
	OutputOctets int64
	SessionTime  int64
}

// StopParams finalizes a session. The stored session_time becomes
// stop_time - start_time regardless of what the NAS last reported.
type StopParams struct {
	SessionID      string
	StopTime       time.Time
	TerminateCause string
	InputOctets    int64
	OutputOctets   int64
}

// SessionFilter narrows ListSessions. Zero values mean "no constraint".
type SessionFilter struct {
	Username     string
	NASIPAddress string
	Active       *bool
	StartedAfter time.Time
	StartedUntil time.Time
}

// SessionSort orders ListSessions results. Field must be one of the
// whitelisted columns (see ValidSortField); ties always break by
// session_id ascending so pagination is deterministic.
type SessionSort struct {
	Field      string
	Descending bool
}

// SessionPage is a 1-based page request.
type SessionPage struct {
	Number int
	Size   int
}

var sessionSortFields = map[string]struct{}{
	"session_id":     {},
	"username":       {},
	"nas_ip_address": {},
	"nas_port":       {},
	"start_time":     {},
	"stop_time":      {},
	"session_time":   {},
	"input_octets":   {},
	"output_octets":  {},
}

// ValidSortField reports whether field is an allowed ListSessions sort column.
func ValidSortField(field string) bool {
	_, ok := sessionSortFields[field]
	return ok
}

// SessionStore is the authoritative store of accounting sessions.
// All mutations to a single session row are serialized by the
// implementation; callers never coordinate.
type SessionStore interface {
	// BeginSession inserts a new active row. Fails with ErrDuplicateSession
	// if the session_id is already taken; the existing row is unmodified.
	BeginSession(ctx context.Context, p BeginParams) (*v1.AccountingSession, error)

	// ApplyInterimUpdate applies NAS counters to an active session.
	// Returns applied=false when the update is stale (SessionTime <= stored);
	// the returned session is the current stored row either way.
	// Fails with ErrSessionNotFound or ErrSessionTerminated.
	ApplyInterimUpdate(ctx context.Context, p InterimParams) (session *v1.AccountingSession, applied bool, err error)

	// EndSession finalizes a session. Idempotent for an identical repeat
	// (same stop_time and terminate_cause); fails with ErrConflictingStop
	// for a differing repeat and ErrSessionNotFound for unknown sessions.
	EndSession(ctx context.Context, p StopParams) (*v1.AccountingSession, error)

	// GetSession fetches one row or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*v1.AccountingSession, error)

	// ListSessions returns one page plus the total row count for the filter.
	ListSessions(ctx context.Context, f SessionFilter, s SessionSort, p SessionPage) ([]*v1.AccountingSession, int64, error)
}

// Report row types. Aggregates are recomputed from session rows; the
// session store remains the sole source of truth.

// TopUserRow is one entry of the per-user traffic ranking.
type TopUserRow struct {
	Username     string `json:"username"`
	SessionCount int64  `json:"session_count"`
	TotalOctets  int64  `json:"total_octets"`
	SessionTime  int64  `json:"session_time"`
}

// OverviewRow summarizes all sessions in a date range from one snapshot,
// so ActiveCount + CompletedCount always equals the range's row count.
type OverviewRow struct {
	ActiveCount        int64           `json:"active_count"`
	CompletedCount     int64           `json:"completed_count"`
	TotalOctets        int64           `json:"total_traffic"`
	UniqueUsers        int64           `json:"unique_users"`
	AvgSessionDuration decimal.Decimal `json:"avg_session_duration"`
}

// NASTrafficRow is per-NAS traffic totals.
type NASTrafficRow struct {
	NASIPAddress string `json:"nas_ip_address"`
	SessionCount int64  `json:"session_count"`
	InputOctets  int64  `json:"input_octets"`
	OutputOctets int64  `json:"output_octets"`
}

// HourTrafficRow is one [start, start+1h) bucket aligned to the reporting
// timezone.
type HourTrafficRow struct {
	BucketStart  time.Time `json:"bucket_start"`
	SessionCount int64     `json:"session_count"`
	InputOctets  int64     `json:"input_octets"`
	OutputOctets int64     `json:"output_octets"`
}

// Top-users ranking metrics.
const (
	TopUsersByTraffic      = "total_traffic"
	TopUsersBySessionTime  = "session_time"
	TopUsersBySessionCount = "session_count"
)

// ReportStore computes read-only summaries over session rows. Each call is
// one bounded read; implementations hold no locks across calls.
type ReportStore interface {
	TopUsers(ctx context.Context, orderBy string, limit int, from, to time.Time) ([]TopUserRow, error)
	Overview(ctx context.Context, from, to time.Time) (*OverviewRow, error)
	TrafficByNAS(ctx context.Context, from, to time.Time) ([]NASTrafficRow, error)
	TrafficByHour(ctx context.Context, from, to time.Time, timezone string) ([]HourTrafficRow, error)
}
