package accounting

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/netacct-lab/radacct/internal/core/storage"
)

// StopObserver is notified when a session terminates through a normal
// accounting Stop. The session control service uses this to confirm a
// pending disconnect ticket that raced with the NAS's own stop event.
type StopObserver interface {
	SessionStopped(sessionID string)
}

type Service struct {
	store            storage.SessionStore
	stops            StopObserver
	maxBodySizeBytes int

	staleDiscards uint64
}

// NewService creates the accounting ingestion service. stops may be nil when
// no disconnect reconciliation is wanted (tests).
func NewService(store storage.SessionStore, stops StopObserver, maxBodySizeMB int) *Service {
	if store == nil {
		panic("accounting: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		stops:            stops,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the accounting ingestion routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/accounting", s.AccountingHandler)
}

// StaleDiscards reports how many stale interim updates were discarded since
// start. Discards are successes on the wire; this counter is the only trace
// they leave.
func (s *Service) StaleDiscards() uint64 {
	return atomic.LoadUint64(&s.staleDiscards)
}
