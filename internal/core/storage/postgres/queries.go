package postgres

// SQL for session row operations. Every single-row mutation is one guarded
// statement, so per-session serialization and stale-update discard happen
// inside PostgreSQL's row lock rather than in application code.

const (
	sessionColumns = `
		session_id, username, nas_ip_address, nas_port,
		start_time, stop_time, input_octets, output_octets,
		session_time, terminate_cause, updated_at`

	// queryBeginSession inserts a new active session.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) when the
	// session_id is already taken; the existing row is untouched.
	queryBeginSession = `
		INSERT INTO radacct (
			session_id, username, nas_ip_address, nas_port,
			start_time, input_octets, output_octets, session_time, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, NOW())
		ON CONFLICT (session_id) DO NOTHING
		RETURNING` + sessionColumns + `
	`

	// queryApplyInterimUpdate applies NAS counters to an active session.
	// The WHERE clause rejects terminated rows and stale updates
	// (session_time only increases); GREATEST keeps accepted counters
	// monotonic even if a NAS resets and reports smaller values.
	// No rows returned means not-found, terminated, or stale; the caller
	// classifies via queryGetSession.
	queryApplyInterimUpdate = `
		UPDATE radacct SET
			input_octets  = GREATEST(input_octets, $2),
			output_octets = GREATEST(output_octets, $3),
			session_time  = $4,
			updated_at    = NOW()
		WHERE session_id = $1
		  AND stop_time IS NULL
		  AND session_time < $4
		RETURNING` + sessionColumns + `
	`

	// queryEndSession finalizes an active session. session_time is derived
	// from stop_time - start_time, never taken from the request. No rows
	// returned means the session is missing or already terminated; the
	// caller decides between idempotent repeat and conflicting stop.
	queryEndSession = `
		UPDATE radacct SET
			stop_time       = $2,
			terminate_cause = $3,
			input_octets    = GREATEST(input_octets, $4),
			output_octets   = GREATEST(output_octets, $5),
			session_time    = FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - start_time)))::bigint,
			updated_at      = NOW()
		WHERE session_id = $1
		  AND stop_time IS NULL
		RETURNING` + sessionColumns + `
	`

	queryGetSession = `
		SELECT` + sessionColumns + `
		FROM radacct
		WHERE session_id = $1
	`

	// List queries are assembled at call time from the whitelisted sort
	// column and the filter; see buildListQuery.
	queryListSessionsBase  = `SELECT` + sessionColumns + ` FROM radacct`
	queryCountSessionsBase = `SELECT COUNT(*) FROM radacct`
)
