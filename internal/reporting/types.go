package reporting

import (
	"time"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	"github.com/netacct-lab/radacct/internal/core/storage"
)

// SessionListRequest is a normalized listing query. Zero values take the
// configured defaults during validation.
type SessionListRequest struct {
	Username     string
	NASIPAddress string
	Active       *bool
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
	SortField    string
	SortOrder    string
}

// SessionListResponse is the paginated envelope the presentation layer
// consumes. Pagination math is always server-computed.
type SessionListResponse struct {
	Data       []*v1.AccountingSession `json:"data"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	Total      int64                   `json:"total"`
	TotalPages int64                   `json:"total_pages"`
	HasNext    bool                    `json:"has_next"`
	HasPrev    bool                    `json:"has_prev"`
}

// TopUsersRequest ranks subscribers over a date range.
type TopUsersRequest struct {
	OrderBy string
	Limit   int
	From    time.Time
	To      time.Time
}

// TopUsersResponse echoes the effective query parameters: Limit reflects the
// applied cap, so a clamped limit is always visible to the caller.
type TopUsersResponse struct {
	OrderBy string               `json:"order_by"`
	Limit   int                  `json:"limit"`
	From    time.Time            `json:"date_from"`
	To      time.Time            `json:"date_to"`
	Data    []storage.TopUserRow `json:"data"`
}

// OverviewResponse summarizes sessions started in [From, To).
type OverviewResponse struct {
	From time.Time `json:"date_from"`
	To   time.Time `json:"date_to"`
	storage.OverviewRow
}

// NASTrafficResponse lists per-NAS totals, busiest first.
type NASTrafficResponse struct {
	From time.Time               `json:"date_from"`
	To   time.Time               `json:"date_to"`
	Data []storage.NASTrafficRow `json:"data"`
}

// HourlyTrafficResponse lists hourly buckets aligned to the reporting
// timezone.
type HourlyTrafficResponse struct {
	From     time.Time                `json:"date_from"`
	To       time.Time                `json:"date_to"`
	Timezone string                   `json:"timezone"`
	Data     []storage.HourTrafficRow `json:"data"`
}
