package postgres

import (
	"context"

	"github.com/upb/tool-governance/config"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all Postgres repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for invocation records
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// InitSchema creates the main schema and, when configured, the separate audit schema
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	if f.auditDB != nil {
		return f.auditDB.InitAuditSchema(ctx)
	}
	return nil
}

// NewRepositories creates all repository instances. The counter store is included so
// QUOTA_BACKEND=postgres needs nothing else.
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	return &repositories.Repositories{
		Tenants:       NewTenantRepository(f.db, f.logger),
		QuotaPolicies: NewQuotaPolicyRepository(f.db, f.logger),
		QuotaCounters: NewQuotaCounterStore(f.db, f.GetTransactionManager(), f.logger),
		Invocations:   NewInvocationRepository(auditDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
