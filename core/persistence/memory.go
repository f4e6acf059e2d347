package persistence

import (
	"context"
	"maps"
	"sync"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"go.uber.org/zap"
)

// MemoryStore keeps documents in memory and answers reads with a
// query.Evaluator. It is safe for concurrent use.
type MemoryStore struct {
	schema    *schema.Table
	evaluator *query.Evaluator
	mu        sync.RWMutex
	docs      map[string][]schema.Document
}

// NewMemoryStore creates an empty store for the resources of table.
func NewMemoryStore(table *schema.Table, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		schema: table,
		docs:   make(map[string][]schema.Document),
	}
	s.evaluator = query.NewEvaluator(table, s.snapshot, logger)
	return s
}

// snapshot returns the documents of resource. The returned slice is never
// appended to in place, so readers may hold it without the lock.
func (s *MemoryStore) snapshot(resource string) ([]schema.Document, error) {
	if _, ok := s.schema.Lookup(resource); !ok {
		return nil, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[resource], nil
}

// Read evaluates req against the stored documents. The returned documents
// are copies.
func (s *MemoryStore) Read(_ context.Context, req Request) ([]schema.Document, error) {
	docs, err := s.snapshot(req.Resource)
	if err != nil {
		return nil, err
	}
	rows, err := s.evaluator.Apply(req.Resource, docs, req.Description, req.Options)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Document, len(rows))
	for i, row := range rows {
		out[i] = maps.Clone(row)
	}
	return out, nil
}

// Insert validates docs against the resource and stores them. Nothing is
// stored when any document is invalid.
func (s *MemoryStore) Insert(_ context.Context, resource string, docs []schema.Document) (int64, error) {
	res, ok := s.schema.Lookup(resource)
	if !ok {
		return 0, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
	}

	validator := schema.NewValidator(res)
	checked := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		for key := range doc {
			if !res.HasColumn(key) {
				return 0, query.NewValidationError(query.UnknownColumn, resource, "cannot insert unknown column '%s'", key)
			}
		}
		out, err := validator.Check(doc, false)
		if err != nil {
			return 0, err
		}
		for _, c := range res.Columns {
			if v, ok := out[c.Name]; ok {
				out[c.Name] = query.SerializeValue(v)
			} else {
				out[c.Name] = nil
			}
		}
		checked = append(checked, out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.docs[resource]
	next := make([]schema.Document, 0, len(current)+len(checked))
	next = append(next, current...)
	s.docs[resource] = append(next, checked...)
	return int64(len(checked)), nil
}
