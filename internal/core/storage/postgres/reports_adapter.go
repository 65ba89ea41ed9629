package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/netacct-lab/radacct/internal/core/storage"
	"github.com/shopspring/decimal"
)

const (
	// Top-user rankings. One query per metric so each stays a constant the
	// tests can match verbatim. Ties break by username ASC.
	queryTopUsersByTraffic = `
		SELECT username,
		       COUNT(*) AS session_count,
		       COALESCE(SUM(input_octets + output_octets), 0) AS total_octets,
		       COALESCE(SUM(session_time), 0) AS total_session_time
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY username
		ORDER BY total_octets DESC, username ASC
		LIMIT $3
	`

	queryTopUsersBySessionTime = `
		SELECT username,
		       COUNT(*) AS session_count,
		       COALESCE(SUM(input_octets + output_octets), 0) AS total_octets,
		       COALESCE(SUM(session_time), 0) AS total_session_time
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY username
		ORDER BY total_session_time DESC, username ASC
		LIMIT $3
	`

	queryTopUsersBySessionCount = `
		SELECT username,
		       COUNT(*) AS session_count,
		       COALESCE(SUM(input_octets + output_octets), 0) AS total_octets,
		       COALESCE(SUM(session_time), 0) AS total_session_time
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY username
		ORDER BY session_count DESC, username ASC
		LIMIT $3
	`

	// queryOverview computes every overview figure in one statement, so all
	// counts come from the same MVCC snapshot and active + completed always
	// equals the range's row count.
	queryOverview = `
		SELECT
			COUNT(*) FILTER (WHERE stop_time IS NULL)     AS active_count,
			COUNT(*) FILTER (WHERE stop_time IS NOT NULL) AS completed_count,
			COALESCE(SUM(input_octets + output_octets), 0) AS total_octets,
			COUNT(DISTINCT username)                       AS unique_users,
			COALESCE(AVG(session_time), 0)                 AS avg_session_duration
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
	`

	queryTrafficByNAS = `
		SELECT nas_ip_address,
		       COUNT(*) AS session_count,
		       COALESCE(SUM(input_octets), 0)  AS input_octets,
		       COALESCE(SUM(output_octets), 0) AS output_octets
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY nas_ip_address
		ORDER BY COALESCE(SUM(input_octets + output_octets), 0) DESC, nas_ip_address ASC
	`

	// queryTrafficByHour buckets sessions into [start, start+1h) windows
	// aligned to the reporting timezone. The second AT TIME ZONE converts
	// the zone-local truncation back to a timestamptz, so bucket_start
	// scans as the absolute instant the zone's hour began.
	queryTrafficByHour = `
		SELECT date_trunc('hour', start_time AT TIME ZONE $3) AT TIME ZONE $3 AS bucket_start,
		       COUNT(*) AS session_count,
		       COALESCE(SUM(input_octets), 0)  AS input_octets,
		       COALESCE(SUM(output_octets), 0) AS output_octets
		FROM radacct
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`
)

// ReportsAdapter implements storage.ReportStore using PostgreSQL.
// It shares the session adapter's connection pool; every report is a single
// bounded read and holds no locks across calls.
type ReportsAdapter struct {
	db *sql.DB
}

// NewReportsAdapter creates a ReportsAdapter sharing the given connection.
func NewReportsAdapter(db *sql.DB) *ReportsAdapter {
	return &ReportsAdapter{db: db}
}

var topUsersQueries = map[string]string{
	storage.TopUsersByTraffic:      queryTopUsersByTraffic,
	storage.TopUsersBySessionTime:  queryTopUsersBySessionTime,
	storage.TopUsersBySessionCount: queryTopUsersBySessionCount,
}

// TopUsers ranks users in [from, to) by the requested metric descending,
// username ascending on ties.
func (a *ReportsAdapter) TopUsers(ctx context.Context, orderBy string, limit int, from, to time.Time) ([]storage.TopUserRow, error) {
	query, ok := topUsersQueries[orderBy]
	if !ok {
		return nil, fmt.Errorf("unknown top-users metric %q", orderBy)
	}

	rows, err := a.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()

	var results []storage.TopUserRow
	for rows.Next() {
		var r storage.TopUserRow
		if err := rows.Scan(&r.Username, &r.SessionCount, &r.TotalOctets, &r.SessionTime); err != nil {
			return nil, fmt.Errorf("failed to scan top-user row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top users: %w", err)
	}

	return results, nil
}

// Overview summarizes sessions started in [from, to).
func (a *ReportsAdapter) Overview(ctx context.Context, from, to time.Time) (*storage.OverviewRow, error) {
	var o storage.OverviewRow
	var avg decimal.Decimal

	err := a.db.QueryRowContext(ctx, queryOverview, from, to).Scan(
		&o.ActiveCount,
		&o.CompletedCount,
		&o.TotalOctets,
		&o.UniqueUsers,
		&avg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query overview: %w", err)
	}

	o.AvgSessionDuration = avg
	return &o, nil
}

// TrafficByNAS totals traffic per access device for sessions started in
// [from, to), busiest NAS first.
func (a *ReportsAdapter) TrafficByNAS(ctx context.Context, from, to time.Time) ([]storage.NASTrafficRow, error) {
	rows, err := a.db.QueryContext(ctx, queryTrafficByNAS, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query traffic by NAS: %w", err)
	}
	defer rows.Close()

	var results []storage.NASTrafficRow
	for rows.Next() {
		var r storage.NASTrafficRow
		if err := rows.Scan(&r.NASIPAddress, &r.SessionCount, &r.InputOctets, &r.OutputOctets); err != nil {
			return nil, fmt.Errorf("failed to scan NAS traffic row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating NAS traffic: %w", err)
	}

	return results, nil
}

// TrafficByHour buckets traffic into hourly windows aligned to timezone
// (an IANA zone name, validated at config load).
func (a *ReportsAdapter) TrafficByHour(ctx context.Context, from, to time.Time, timezone string) ([]storage.HourTrafficRow, error) {
	rows, err := a.db.QueryContext(ctx, queryTrafficByHour, from, to, timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to query traffic by hour: %w", err)
	}
	defer rows.Close()

	var results []storage.HourTrafficRow
	for rows.Next() {
		var r storage.HourTrafficRow
		if err := rows.Scan(&r.BucketStart, &r.SessionCount, &r.InputOctets, &r.OutputOctets); err != nil {
			return nil, fmt.Errorf("failed to scan hourly traffic row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hourly traffic: %w", err)
	}

	return results, nil
}
