package accounting

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	httperr "github.com/netacct-lab/radacct/internal/core/errors"
	"github.com/netacct-lab/radacct/internal/core/storage"

	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgPersistFailed   = "Failed to persist accounting event"
	msgDuplicateStart  = "Session already exists"
	msgSessionNotFound = "Session not found"
	msgTerminated      = "Session already terminated"
	msgConflictingStop = "Stop conflicts with stored terminal state"
)

// accountingError carries the structured HTTP error shape from a helper back
// to the orchestrator. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type accountingError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *accountingError) Error() string {
	return e.message
}

// AccountingHandler handles HTTP POST requests carrying accounting events.
// One endpoint serves Start, Interim-Update and Stop; status_type decides
// the session store operation.
func (s *Service) AccountingHandler(c *gin.Context) {
	evt, payloadSize, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if vErr := evt.Validate(); vErr != nil {
		slog.Warn("Envelope validation failed", "error", vErr, "session_id", evt.SessionID)
		writeError(c, &accountingError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    vErr.Error(),
		})
		return
	}

	slog.Info("Received accounting event",
		"session_id", evt.SessionID,
		"status_type", evt.StatusType,
		"username", evt.Username,
		"nas", evt.NASIPAddress,
		"payload_size", payloadSize)

	switch evt.StatusType {
	case v1.StatusStart:
		s.handleStart(c, evt)
	case v1.StatusInterimUpdate:
		s.handleInterim(c, evt)
	case v1.StatusStop:
		s.handleStop(c, evt)
	}
}

// parseEvent reads the raw request body and binds it into an AccountingEvent.
// Returns the parsed event and the raw payload size (used for structured logging upstream).
func (s *Service) parseEvent(c *gin.Context) (*v1.AccountingEvent, int, *accountingError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &accountingError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &accountingError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var evt v1.AccountingEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &accountingError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	// Set ReceivedAt to the time we got the request; never trusted from the NAS.
	evt.ReceivedAt = time.Now().UTC()
	return &evt, len(bodyBytes), nil
}

func (s *Service) handleStart(c *gin.Context, evt *v1.AccountingEvent) {
	session, err := s.store.BeginSession(c.Request.Context(), storage.BeginParams{
		SessionID:    evt.SessionID,
		Username:     evt.Username,
		NASIPAddress: evt.NASIPAddress,
		NASPort:      evt.NASPort,
		StartTime:    evt.EventTime,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateSession) {
			slog.Info("Duplicate accounting start rejected", "session_id", evt.SessionID)
			writeError(c, &accountingError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateSessionError,
				message:    msgDuplicateStart,
			})
			return
		}
		writeError(c, persistError(err, evt.SessionID))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "started", "session": session})
}

func (s *Service) handleInterim(c *gin.Context, evt *v1.AccountingEvent) {
	session, applied, err := s.store.ApplyInterimUpdate(c.Request.Context(), storage.InterimParams{
		SessionID:    evt.SessionID,
		InputOctets:  evt.InputOctets,
		OutputOctets: evt.OutputOctets,
		SessionTime:  evt.SessionTime,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			writeError(c, &accountingError{
				statusCode: http.StatusNotFound,
				errorType:  httperr.HttpSessionNotFoundError,
				message:    msgSessionNotFound,
			})
		case errors.Is(err, storage.ErrSessionTerminated):
			writeError(c, &accountingError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpSessionTerminatedError,
				message:    msgTerminated,
			})
		default:
			writeError(c, persistError(err, evt.SessionID))
		}
		return
	}

	if !applied {
		// Out-of-order delivery. Not an error on the wire; counted for
		// observability.
		atomic.AddUint64(&s.staleDiscards, 1)
		c.JSON(http.StatusOK, gin.H{"status": "stale", "session": session})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "applied", "session": session})
}

func (s *Service) handleStop(c *gin.Context, evt *v1.AccountingEvent) {
	session, err := s.store.EndSession(c.Request.Context(), storage.StopParams{
		SessionID:      evt.SessionID,
		StopTime:       evt.EventTime,
		TerminateCause: evt.TerminateCause,
		InputOctets:    evt.InputOctets,
		OutputOctets:   evt.OutputOctets,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			writeError(c, &accountingError{
				statusCode: http.StatusNotFound,
				errorType:  httperr.HttpSessionNotFoundError,
				message:    msgSessionNotFound,
			})
		case errors.Is(err, storage.ErrConflictingStop):
			writeError(c, &accountingError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpConflictingStopError,
				message:    msgConflictingStop,
			})
		default:
			writeError(c, persistError(err, evt.SessionID))
		}
		return
	}

	// A pending disconnect ticket for this session is now confirmed: the
	// NAS terminated it, whether on operator request or on its own.
	if s.stops != nil {
		s.stops.SessionStopped(evt.SessionID)
	}

	c.JSON(http.StatusOK, gin.H{"status": "stopped", "session": session})
}

func persistError(err error, sessionID string) *accountingError {
	slog.Error("Failed to persist accounting event", "error", err, "session_id", sessionID)
	return &accountingError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgPersistFailed,
	}
}

// writeError serializes an accountingError as the JSON HTTP response.
func writeError(c *gin.Context, err *accountingError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
