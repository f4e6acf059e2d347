package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/asaidimu/mirrorql/sqlite"
	"go.uber.org/zap"
)

// SQLiteStore runs mirror reads and writes through a sqlite.Interactor.
type SQLiteStore struct {
	interactor *sqlite.Interactor
	logger     *zap.Logger
}

// NewSQLiteStore creates a store over db. Resources of table are created
// on demand by EnsureResources.
func NewSQLiteStore(db *sql.DB, table *schema.Table, logger *zap.Logger, options *sqlite.InteractorOptions) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		interactor: sqlite.NewInteractor(db, table, logger, options, nil),
		logger:     logger,
	}
}

// Interactor exposes the underlying interactor.
func (s *SQLiteStore) Interactor() *sqlite.Interactor {
	return s.interactor
}

// EnsureResources creates the tables of the named resources that do not
// exist yet.
func (s *SQLiteStore) EnsureResources(ctx context.Context, names ...string) error {
	for _, name := range names {
		exists, err := s.interactor.TableExists(ctx, name)
		if err != nil {
			return fmt.Errorf("error looking up resource %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := s.interactor.CreateResource(ctx, name); err != nil {
			return fmt.Errorf("failed to create table for resource %s: %w", name, err)
		}
		s.logger.Debug("Created mirror table", zap.String("resource", name))
	}
	return nil
}

// Read executes the compiled statement of req.
func (s *SQLiteStore) Read(ctx context.Context, req Request) ([]schema.Document, error) {
	docs, err := s.interactor.Select(ctx, req.Resource, req.Compiled)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Fetched rows from mirror", zap.String("resource", req.Resource), zap.Int("count", len(docs)))
	return docs, nil
}

// Insert writes docs in a single transaction. Either every document is
// written or none is.
func (s *SQLiteStore) Insert(ctx context.Context, resource string, docs []schema.Document) (int64, error) {
	tx, err := s.interactor.StartTransaction(ctx)
	if err != nil {
		return 0, err
	}

	n, err := tx.Insert(ctx, resource, docs)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back insert", zap.Error(rbErr))
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}
	return n, nil
}
