package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	v1 "github.com/netacct-lab/radacct/internal/api/v1"
	"github.com/netacct-lab/radacct/internal/core/storage"
)

var (
	// ErrTicketNotFound is returned when no disconnect ticket exists for an ID.
	ErrTicketNotFound = errors.New("disconnect ticket not found")

	// ErrDisconnectTimeout marks a ticket that expired without NAS
	// confirmation. The session row is untouched; it may still terminate
	// later through a normal accounting Stop.
	ErrDisconnectTimeout = errors.New("disconnect timed out awaiting NAS confirmation")
)

// Options configures the control service.
type Options struct {
	// DisconnectTimeout is how long a ticket may stay pending before it fails.
	DisconnectTimeout time.Duration
	// SweepInterval is how often expired pending tickets are failed.
	SweepInterval time.Duration
	// NASTimeout bounds each outbound disconnect command.
	NASTimeout time.Duration
	// TicketRetention is how long confirmed/failed tickets stay pollable
	// before the sweeper drops them.
	TicketRetention time.Duration
}

func (o Options) normalized() Options {
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.NASTimeout <= 0 {
		o.NASTimeout = 5 * time.Second
	}
	if o.TicketRetention <= 0 {
		o.TicketRetention = 5 * time.Minute
	}
	return o
}

// Service mediates operator-initiated session termination. Tickets live in
// memory: a restart forgets in-flight disconnects, which is safe because
// tickets never carry session state — the store stays authoritative.
type Service struct {
	store storage.SessionStore
	nas   Client
	opts  Options

	mu        sync.RWMutex
	tickets   map[string]*DisconnectTicket // by ticket ID
	bySession map[string]*DisconnectTicket // pending ticket per session

	nowFn func() time.Time
	wg    sync.WaitGroup
}

// NewService creates the session control service.
func NewService(store storage.SessionStore, nas Client, opts Options) *Service {
	if store == nil {
		panic("control: store must not be nil")
	}
	if nas == nil {
		nas = NopClient{}
	}
	return &Service{
		store:     store,
		nas:       nas,
		opts:      opts.normalized(),
		tickets:   make(map[string]*DisconnectTicket),
		bySession: make(map[string]*DisconnectTicket),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start runs the ticket timeout sweeper until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	slog.Info("[Control] Starting disconnect ticket sweeper",
		"disconnect_timeout", s.opts.DisconnectTimeout,
		"sweep_interval", s.opts.SweepInterval,
	)

	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-ctx.Done():
			slog.Info("[Control] Stopping (context cancelled)")
			s.wg.Wait()
			return nil
		}
	}
}

// sweepExpired fails pending tickets older than the disconnect timeout and
// drops resolved tickets past the retention window. A confirmed ticket is
// never failed, only eventually forgotten.
func (s *Service) sweepExpired() {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tickets {
		if t.terminal() {
			if t.ResolvedAt != nil && now.Sub(*t.ResolvedAt) >= s.opts.TicketRetention {
				delete(s.tickets, id)
			}
			continue
		}
		if now.Sub(t.RequestedAt) < s.opts.DisconnectTimeout {
			continue
		}

		t.State = TicketFailed
		t.FailureReason = ErrDisconnectTimeout.Error()
		at := now
		t.ResolvedAt = &at
		delete(s.bySession, t.SessionID)

		slog.Warn("[Control] Disconnect ticket timed out",
			"ticket_id", t.ID,
			"session_id", t.SessionID,
			"pending_for", now.Sub(t.RequestedAt))
	}
}

// RequestDisconnect issues an out-of-band disconnect command to the owning
// NAS and returns a pending ticket. The session row is not modified; the
// ticket is confirmed only when the NAS reports the termination (or a normal
// accounting Stop arrives). A repeated request while a ticket is pending
// returns the existing ticket.
func (s *Service) RequestDisconnect(ctx context.Context, sessionID string) (*DisconnectTicket, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, storage.ErrSessionTerminated
	}

	s.mu.Lock()
	if existing, ok := s.bySession[sessionID]; ok {
		ticket := existing.clone()
		s.mu.Unlock()
		return ticket, nil
	}

	ticket := &DisconnectTicket{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		State:       TicketPending,
		RequestedAt: s.nowFn(),
	}
	s.tickets[ticket.ID] = ticket
	s.bySession[sessionID] = ticket
	s.mu.Unlock()

	slog.Info("[Control] Disconnect requested",
		"ticket_id", ticket.ID,
		"session_id", sessionID,
		"nas", session.NASIPAddress)

	// The NAS command runs out-of-band; the HTTP caller gets the pending
	// ticket immediately and polls for the outcome.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		cmdCtx, cancel := context.WithTimeout(context.Background(), s.opts.NASTimeout)
		defer cancel()

		if err := s.nas.Disconnect(cmdCtx, session); err != nil {
			slog.Warn("[Control] NAS disconnect command failed",
				"ticket_id", ticket.ID,
				"session_id", sessionID,
				"error", err)
			s.failTicket(ticket.ID, err.Error())
		}
	}()

	return ticket.clone(), nil
}

// ConfirmDisconnect finalizes the session via the store and confirms the
// pending ticket. Called when the NAS acknowledges the termination with
// final counters.
func (s *Service) ConfirmDisconnect(ctx context.Context, sessionID string, p storage.StopParams) (*v1.AccountingSession, error) {
	p.SessionID = sessionID

	session, err := s.store.EndSession(ctx, p)
	if err != nil {
		return nil, err
	}

	s.SessionStopped(sessionID)
	return session, nil
}

// SessionStopped confirms the pending ticket for a session, if any. Invoked
// for every terminated session: an operator-requested disconnect and a
// NAS-initiated stop are indistinguishable once the row is terminal.
func (s *Service) SessionStopped(sessionID string) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.bySession[sessionID]
	if !ok || t.terminal() {
		return
	}

	t.State = TicketConfirmed
	t.ResolvedAt = &now
	delete(s.bySession, sessionID)

	slog.Info("[Control] Disconnect ticket confirmed",
		"ticket_id", t.ID,
		"session_id", sessionID)
}

// GetTicket returns a copy of the ticket or ErrTicketNotFound.
func (s *Service) GetTicket(ticketID string) (*DisconnectTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t.clone(), nil
}

func (s *Service) failTicket(ticketID, reason string) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID]
	if !ok || t.terminal() {
		return
	}

	t.State = TicketFailed
	t.FailureReason = reason
	t.ResolvedAt = &now
	delete(s.bySession, t.SessionID)
}
