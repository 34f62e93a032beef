package service

import (
	"context"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultAuditQueueSize = 1024

// AuditServiceImpl records audit entries off the request path. Entries are queued
// and persisted by one background worker. When the queue is full the entry is
// still logged but not persisted.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	log  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *domain.AuditLog
	done   chan struct{}
}

// NewAuditService starts the persistence worker.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger, queueSize int) *AuditServiceImpl {
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}
	s := &AuditServiceImpl{
		repo:  repo,
		log:   log,
		queue: make(chan *domain.AuditLog, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Log records an audit entry without blocking the caller.
func (s *AuditServiceImpl) Log(_ context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	event := s.log.Info().
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("ip", entry.IPAddress).
		Str("request_id", entry.RequestID)
	if entry.WalletAddress != nil {
		event = event.Str("wallet", *entry.WalletAddress)
	}
	event.Msg("audit")

	if s.repo == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.log.Warn().Str("action", string(entry.Action)).Msg("audit queue full, entry not persisted")
	}
}

// Close stops accepting entries and waits for queued ones to be persisted.
func (s *AuditServiceImpl) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuditServiceImpl) run() {
	defer close(s.done)
	for entry := range s.queue {
		if err := s.repo.Create(context.Background(), entry); err != nil {
			s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}
}
