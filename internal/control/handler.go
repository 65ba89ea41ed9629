package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/netacct-lab/radacct/internal/core/errors"
	"github.com/netacct-lab/radacct/internal/core/storage"
)

// RegisterRoutes registers the session control routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/sessions/:session_id/disconnect", s.HandleRequestDisconnect)
	r.GET("/v1/disconnects/:ticket_id", s.HandleGetTicket)
	r.POST("/v1/disconnects/:ticket_id/confirm", s.HandleConfirmDisconnect)
}

// HandleRequestDisconnect handles POST /v1/sessions/:session_id/disconnect.
// Returns 202 with a pending ticket; the caller polls the ticket for the
// outcome.
func (s *Service) HandleRequestDisconnect(c *gin.Context) {
	sessionID := c.Param("session_id")

	ticket, err := s.RequestDisconnect(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpSessionNotFoundError,
				Message:   "Session not found",
			})
		case errors.Is(err, storage.ErrSessionTerminated):
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpSessionTerminatedError,
				Message:   "Session already terminated",
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to request disconnect",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, ticket)
}

// HandleGetTicket handles GET /v1/disconnects/:ticket_id.
// A timed-out ticket reports state "failed" with the timeout reason.
func (s *Service) HandleGetTicket(c *gin.Context) {
	ticket, err := s.GetTicket(c.Param("ticket_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpTicketNotFoundError,
			Message:   "Disconnect ticket not found",
		})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// HandleConfirmDisconnect handles POST /v1/disconnects/:ticket_id/confirm,
// the NAS acknowledgement callback carrying the final counters.
func (s *Service) HandleConfirmDisconnect(c *gin.Context) {
	ticket, err := s.GetTicket(c.Param("ticket_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpTicketNotFoundError,
			Message:   "Disconnect ticket not found",
		})
		return
	}

	// A ticket that already timed out cannot be confirmed; the session may
	// still terminate through a normal accounting Stop.
	if ticket.State == TicketFailed && ticket.FailureReason == ErrDisconnectTimeout.Error() {
		c.JSON(http.StatusGatewayTimeout, httperr.ErrorResponse{
			ErrorType: httperr.HttpDisconnectTimeoutError,
			Message:   "Disconnect ticket timed out awaiting NAS confirmation",
		})
		return
	}

	var body struct {
		StopTime       time.Time `json:"stop_time" binding:"required"`
		TerminateCause string    `json:"terminate_cause" binding:"required"`
		InputOctets    int64     `json:"input_octets"`
		OutputOctets   int64     `json:"output_octets"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid confirmation body",
			Details:   err.Error(),
		})
		return
	}

	session, err := s.ConfirmDisconnect(c.Request.Context(), ticket.SessionID, storage.StopParams{
		StopTime:       body.StopTime,
		TerminateCause: body.TerminateCause,
		InputOctets:    body.InputOctets,
		OutputOctets:   body.OutputOctets,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpSessionNotFoundError,
				Message:   "Session not found",
			})
		case errors.Is(err, storage.ErrConflictingStop):
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpConflictingStopError,
				Message:   "Stop conflicts with stored terminal state",
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to confirm disconnect",
				Details:   err.Error(),
			})
		}
		return
	}

	updated, _ := s.GetTicket(ticket.ID)
	c.JSON(http.StatusOK, gin.H{"ticket": updated, "session": session})
}
