package postgres

import (
	"database/sql"
	"fmt"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSessionRow scans a radacct row into an AccountingSession.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
// Nullable columns (stop_time, terminate_cause) map onto the pointer and
// empty-string representations of the API type.
func scanSessionRow(row scanner) (*v1.AccountingSession, error) {
	var s v1.AccountingSession
	var stopTime sql.NullTime
	var terminateCause sql.NullString

	err := row.Scan(
		&s.SessionID,
		&s.Username,
		&s.NASIPAddress,
		&s.NASPort,
		&s.StartTime,
		&stopTime,
		&s.InputOctets,
		&s.OutputOctets,
		&s.SessionTime,
		&terminateCause,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}

	if stopTime.Valid {
		t := stopTime.Time
		s.StopTime = &t
	}
	if terminateCause.Valid {
		s.TerminateCause = terminateCause.String
	}

	return &s, nil
}
