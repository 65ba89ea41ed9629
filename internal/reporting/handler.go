package reporting

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/netacct-lab/radacct/internal/core/errors"
	"github.com/netacct-lab/radacct/internal/core/storage"
)

// RegisterRoutes registers the read API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/sessions", s.HandleListSessions)
	// The router cannot hold a static /v1/sessions/active next to the
	// :session_id wildcard, so "active" is dispatched inside the handler.
	r.GET("/v1/sessions/:session_id", s.HandleGetSession)

	r.GET("/v1/reports/top-users", s.HandleTopUsers)
	r.GET("/v1/reports/overview", s.HandleOverview)
	r.GET("/v1/reports/traffic-by-nas", s.HandleTrafficByNAS)
	r.GET("/v1/reports/traffic-by-hour", s.HandleTrafficByHour)
}

// sessionListQuery is the raw query string shape of GET /v1/sessions.
type sessionListQuery struct {
	Username     string    `form:"username"`
	NASIPAddress string    `form:"nas"`
	Active       *bool     `form:"active"`
	DateFrom     time.Time `form:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo       time.Time `form:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page         int       `form:"page"`
	PageSize     int       `form:"page_size"`
	SortField    string    `form:"sort_field"`
	SortOrder    string    `form:"sort_order"`
}

type rangeQuery struct {
	DateFrom time.Time `form:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo   time.Time `form:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// HandleListSessions handles GET /v1/sessions.
func (s *Service) HandleListSessions(c *gin.Context) {
	var query sessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	response, err := s.ListSessions(c.Request.Context(), SessionListRequest{
		Username:     query.Username,
		NASIPAddress: query.NASIPAddress,
		Active:       query.Active,
		From:         query.DateFrom,
		To:           query.DateTo,
		Page:         query.Page,
		PageSize:     query.PageSize,
		SortField:    query.SortField,
		SortOrder:    query.SortOrder,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleGetSession handles GET /v1/sessions/:session_id. The reserved ID
// "active" serves the active-session listing instead of a single row.
func (s *Service) HandleGetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "active" {
		s.handleListActive(c)
		return
	}

	session, err := s.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// handleListActive is GET /v1/sessions/active: the listing pre-filtered to
// rows without a stop_time.
func (s *Service) handleListActive(c *gin.Context) {
	var query sessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	active := true
	response, err := s.ListSessions(c.Request.Context(), SessionListRequest{
		Username:     query.Username,
		NASIPAddress: query.NASIPAddress,
		Active:       &active,
		From:         query.DateFrom,
		To:           query.DateTo,
		Page:         query.Page,
		PageSize:     query.PageSize,
		SortField:    query.SortField,
		SortOrder:    query.SortOrder,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleTopUsers handles GET /v1/reports/top-users.
func (s *Service) HandleTopUsers(c *gin.Context) {
	var query struct {
		rangeQuery
		OrderBy string `form:"order_by"`
		Limit   int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	response, err := s.TopUsers(c.Request.Context(), TopUsersRequest{
		OrderBy: query.OrderBy,
		Limit:   query.Limit,
		From:    query.DateFrom,
		To:      query.DateTo,
	})
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleOverview handles GET /v1/reports/overview.
func (s *Service) HandleOverview(c *gin.Context) {
	var query rangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	response, err := s.Overview(c.Request.Context(), query.DateFrom, query.DateTo)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleTrafficByNAS handles GET /v1/reports/traffic-by-nas.
func (s *Service) HandleTrafficByNAS(c *gin.Context) {
	var query rangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	response, err := s.TrafficByNAS(c.Request.Context(), query.DateFrom, query.DateTo)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleTrafficByHour handles GET /v1/reports/traffic-by-hour.
func (s *Service) HandleTrafficByHour(c *gin.Context) {
	var query rangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeQueryError(c, invalidQueryf("malformed query parameters: %v", err))
		return
	}

	response, err := s.TrafficByHour(c.Request.Context(), query.DateFrom, query.DateTo)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query",
			Details:   err.Error(),
		})
	case errors.Is(err, storage.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpSessionNotFoundError,
			Message:   "Session not found",
		})
	case errors.Is(err, ErrQueryTimeout):
		c.JSON(http.StatusGatewayTimeout, httperr.ErrorResponse{
			ErrorType: httperr.HttpQueryTimeoutError,
			Message:   "Query timed out",
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to execute query",
			Details:   err.Error(),
		})
	}
}
