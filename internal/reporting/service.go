package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	"github.com/netacct-lab/radacct/internal/core/storage"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidQuery rejects a malformed read query. Out-of-range values are
	// rejected, not clamped, so a caller never silently gets a different page
	// than the one it asked for.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueryTimeout marks a read that exceeded its deadline.
	ErrQueryTimeout = errors.New("query timed out")
)

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

const (
	defaultTopUsersLimit = 10
	maxTopUsersLimit     = 100

	// defaultReportWindow is applied when a report request carries no date
	// range: the last 24 hours, the window dashboards poll for.
	defaultReportWindow = 24 * time.Hour
)

// Settings bounds the read API. Zero values fall back to sane defaults.
type Settings struct {
	DefaultPageSize int
	MaxPageSize     int
	CacheTTL        time.Duration
	ReportTimezone  string
}

func (s Settings) normalized() Settings {
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = 25
	}
	if s.MaxPageSize < s.DefaultPageSize {
		s.MaxPageSize = s.DefaultPageSize
	}
	if s.ReportTimezone == "" {
		s.ReportTimezone = "UTC"
	}
	return s
}

// Service is the read-only query facade: session listings with validated
// pagination, and summary reports recomputed from session rows. Reports may
// be cached for the configured TTL; session reads never are.
type Service struct {
	sessions storage.SessionStore
	reports  storage.ReportStore
	settings Settings

	cache  *reportCache
	flight singleflight.Group
	nowFn  func() time.Time
}

// NewService creates the query facade.
func NewService(sessions storage.SessionStore, reports storage.ReportStore, settings Settings) *Service {
	if sessions == nil {
		panic("reporting: session store must not be nil")
	}
	if reports == nil {
		panic("reporting: report store must not be nil")
	}
	settings = settings.normalized()
	return &Service{
		sessions: sessions,
		reports:  reports,
		settings: settings,
		cache:    newReportCache(settings.CacheTTL),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// GetSession fetches a single session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*v1.AccountingSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return session, nil
}

// ListSessions validates the query, fetches one page and computes the
// pagination envelope.
func (s *Service) ListSessions(ctx context.Context, req SessionListRequest) (*SessionListResponse, error) {
	req, err := s.normalizeListRequest(req)
	if err != nil {
		return nil, err
	}

	filter := storage.SessionFilter{
		Username:     req.Username,
		NASIPAddress: req.NASIPAddress,
		Active:       req.Active,
		StartedAfter: req.From,
		StartedUntil: req.To,
	}
	sort := storage.SessionSort{
		Field:      req.SortField,
		Descending: req.SortOrder == "desc",
	}
	page := storage.SessionPage{Number: req.Page, Size: req.PageSize}

	sessions, total, err := s.sessions.ListSessions(ctx, filter, sort, page)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	if sessions == nil {
		sessions = []*v1.AccountingSession{}
	}

	totalPages := (total + int64(req.PageSize) - 1) / int64(req.PageSize)
	return &SessionListResponse{
		Data:       sessions,
		Page:       req.Page,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    int64(req.Page) < totalPages,
		HasPrev:    req.Page > 1,
	}, nil
}

func (s *Service) normalizeListRequest(req SessionListRequest) (SessionListRequest, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Page < 1 {
		return req, invalidQueryf("page must be >= 1, got %d", req.Page)
	}

	if req.PageSize == 0 {
		req.PageSize = s.settings.DefaultPageSize
	}
	if req.PageSize < 1 || req.PageSize > s.settings.MaxPageSize {
		return req, invalidQueryf("page_size must be 1-%d, got %d", s.settings.MaxPageSize, req.PageSize)
	}

	if req.SortField == "" {
		req.SortField = "start_time"
	}
	if !storage.ValidSortField(req.SortField) {
		return req, invalidQueryf("unknown sort field %q", req.SortField)
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}
	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return req, invalidQueryf("sort_order must be asc or desc, got %q", req.SortOrder)
	}

	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		return req, invalidQueryf("date_from %s is after date_to %s",
			req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}

	return req, nil
}

// TopUsers ranks subscribers over a date range by the requested metric.
// A limit above the cap is clamped and the effective limit is echoed in the
// response.
func (s *Service) TopUsers(ctx context.Context, req TopUsersRequest) (*TopUsersResponse, error) {
	if req.OrderBy == "" {
		req.OrderBy = storage.TopUsersByTraffic
	}
	switch req.OrderBy {
	case storage.TopUsersByTraffic, storage.TopUsersBySessionTime, storage.TopUsersBySessionCount:
	default:
		return nil, invalidQueryf("unknown order_by %q", req.OrderBy)
	}

	if req.Limit == 0 {
		req.Limit = defaultTopUsersLimit
	}
	if req.Limit < 1 {
		return nil, invalidQueryf("limit must be >= 1, got %d", req.Limit)
	}
	if req.Limit > maxTopUsersLimit {
		req.Limit = maxTopUsersLimit
	}

	from, to, err := s.normalizeRange(req.From, req.To)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("top-users|%s|%d|%d|%d", req.OrderBy, req.Limit, from.Unix(), to.Unix())
	value, err := s.cached(key, func() (interface{}, error) {
		rows, err := s.reports.TopUsers(ctx, req.OrderBy, req.Limit, from, to)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []storage.TopUserRow{}
		}
		return &TopUsersResponse{
			OrderBy: req.OrderBy,
			Limit:   req.Limit,
			From:    from,
			To:      to,
			Data:    rows,
		}, nil
	})
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return value.(*TopUsersResponse), nil
}

// Overview summarizes sessions started in the range. The counts come from one
// statement so active + completed always equals the range's session count.
func (s *Service) Overview(ctx context.Context, from, to time.Time) (*OverviewResponse, error) {
	from, to, err := s.normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("overview|%d|%d", from.Unix(), to.Unix())
	value, err := s.cached(key, func() (interface{}, error) {
		row, err := s.reports.Overview(ctx, from, to)
		if err != nil {
			return nil, err
		}
		return &OverviewResponse{From: from, To: to, OverviewRow: *row}, nil
	})
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return value.(*OverviewResponse), nil
}

// TrafficByNAS returns per-NAS traffic totals over the range.
func (s *Service) TrafficByNAS(ctx context.Context, from, to time.Time) (*NASTrafficResponse, error) {
	from, to, err := s.normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("traffic-by-nas|%d|%d", from.Unix(), to.Unix())
	value, err := s.cached(key, func() (interface{}, error) {
		rows, err := s.reports.TrafficByNAS(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []storage.NASTrafficRow{}
		}
		return &NASTrafficResponse{From: from, To: to, Data: rows}, nil
	})
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return value.(*NASTrafficResponse), nil
}

// TrafficByHour returns hourly traffic buckets aligned to the configured
// reporting timezone.
func (s *Service) TrafficByHour(ctx context.Context, from, to time.Time) (*HourlyTrafficResponse, error) {
	from, to, err := s.normalizeRange(from, to)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("traffic-by-hour|%d|%d|%s", from.Unix(), to.Unix(), s.settings.ReportTimezone)
	value, err := s.cached(key, func() (interface{}, error) {
		rows, err := s.reports.TrafficByHour(ctx, from, to, s.settings.ReportTimezone)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []storage.HourTrafficRow{}
		}
		return &HourlyTrafficResponse{
			From:     from,
			To:       to,
			Timezone: s.settings.ReportTimezone,
			Data:     rows,
		}, nil
	})
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return value.(*HourlyTrafficResponse), nil
}

// normalizeRange fills report range defaults: missing end means "now",
// missing start means one default window before the end.
func (s *Service) normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		now := s.nowFn()
		to = now
		// With caching on, quantize the open end to the TTL so repeated
		// default-range polls share one cache key instead of minting a new
		// one every second. Summaries may be stale by the TTL either way.
		if ttl := s.settings.CacheTTL; ttl > 0 {
			if quantized := now.Truncate(ttl); !quantized.Before(from) {
				to = quantized
			}
		}
	}
	if from.IsZero() {
		from = to.Add(-defaultReportWindow)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, invalidQueryf("date_from %s is after date_to %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from.UTC(), to.UTC(), nil
}

// cached serves value from the TTL cache, collapsing concurrent recomputes of
// the same key into one store read.
func (s *Service) cached(key string, compute func() (interface{}, error)) (interface{}, error) {
	if value, ok := s.cache.get(key); ok {
		return value, nil
	}

	value, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if value, ok := s.cache.get(key); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		s.cache.set(key, value)
		return value, nil
	})
	return value, err
}

// wrapTimeout maps a deadline failure to ErrQueryTimeout so handlers can
// answer 504 instead of a generic 500.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	return err
}
