package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services"
	"go.uber.org/zap"
)

// Sink receives one record per invocation attempt. Records are never updated.
type Sink interface {
	Append(ctx context.Context, record *models.InvocationRecord) error
}

// FailureHandler is told about records a background worker could not persist
type FailureHandler func(record *models.InvocationRecord, err error)

// Service persists invocation records asynchronously through a pool of workers
type Service struct {
	repo         repositories.InvocationRepository
	logger       *zap.Logger
	records      chan *models.InvocationRecord
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	onFailure    FailureHandler
	wg           sync.WaitGroup
	mu           sync.RWMutex // write-held while the channel is closed
	started      bool
	stopped      bool
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the record buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-record repository timeout
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  5,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new Service instance
func NewService(repo repositories.InvocationRepository, logger *zap.Logger, config Config) *Service {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Service{
		repo:         repo,
		logger:       logger,
		records:      make(chan *models.InvocationRecord, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
	}
}

// OnFailure registers a handler for background write failures. Call before Start.
func (s *Service) OnFailure(fn FailureHandler) {
	s.onFailure = fn
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting records and waits for queued ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	s.logger.Info("stopping audit service", zap.Int("pending_records", len(s.records)))
	close(s.records)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Append queues a record without blocking. A full buffer or stopped service is an
// audit_persistence error; the record is dropped.
func (s *Service) Append(_ context.Context, record *models.InvocationRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return services.NewAuditPersistenceError(fmt.Errorf("audit service not running"))
	}

	select {
	case s.records <- record:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping record",
			zap.String("tool", record.ToolName),
			zap.String("tenant_id", record.TenantID.String()))
		return services.NewAuditPersistenceError(fmt.Errorf("audit buffer full"))
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for record := range s.records {
		if err := s.write(record); err != nil {
			s.logger.Error("failed to persist invocation record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("record_id", record.ID.String()),
				zap.String("tool", record.ToolName),
				zap.String("tenant_id", record.TenantID.String()))
			if s.onFailure != nil {
				s.onFailure(record, err)
			}
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(record *models.InvocationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Append(ctx, record); err != nil {
		return services.NewAuditPersistenceError(err)
	}
	return nil
}

// List reads back a tenant's records
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter repositories.InvocationFilter, page repositories.Page) ([]*models.InvocationRecord, error) {
	return s.repo.List(ctx, tenantID, filter, page)
}

// Stats aggregates a tenant's records
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (*models.InvocationStats, error) {
	return s.repo.Stats(ctx, tenantID)
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize     int  `json:"buffer_size"`
	PendingRecords int  `json:"pending_records"`
	WorkerCount    int  `json:"worker_count"`
	Started        bool `json:"started"`
}

// DirectSink writes each record synchronously
type DirectSink struct {
	repo repositories.InvocationRepository
}

// NewDirectSink creates a synchronous sink over repo
func NewDirectSink(repo repositories.InvocationRepository) *DirectSink {
	return &DirectSink{repo: repo}
}

// Append writes record before returning
func (d *DirectSink) Append(ctx context.Context, record *models.InvocationRecord) error {
	if err := d.repo.Append(ctx, record); err != nil {
		return services.NewAuditPersistenceError(err)
	}
	return nil
}
