// Package persistence provides the Mirror, the read side of a local copy of
// remote resources. It compiles query descriptions into SQLite statements,
// caches them, executes them against a Store and emits events for each
// operation.
package persistence

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/asaidimu/mirrorql/sqlite"
	"github.com/asaidimu/mirrorql/utils"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of compiled statements a Mirror keeps.
const DefaultCacheSize = 256

// Options configures a Mirror.
type Options struct {
	// CacheSize bounds the compiled statement cache. Zero uses
	// DefaultCacheSize; a negative value disables caching.
	CacheSize int `mapstructure:"cache_size"`
	Logger    *zap.Logger
}

// Mirror is the main entry point for reading mirrored resources. It is safe
// for concurrent use.
type Mirror struct {
	schema        *schema.Table
	compiler      query.Generator
	store         Store
	cache         *lru.Cache
	logger        *zap.Logger
	bus           *events.TypedEventBus[MirrorEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// NewMirror creates a Mirror over store for the resources of table.
func NewMirror(table *schema.Table, store Store, options *Options) (*Mirror, error) {
	if store == nil {
		return nil, fmt.Errorf("a mirror needs a store")
	}
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	compiler, err := sqlite.NewCompiler(table, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create compiler: %w", err)
	}

	var cache *lru.Cache
	if options.CacheSize >= 0 {
		size := options.CacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		cache, err = lru.New(size)
		if err != nil {
			return nil, fmt.Errorf("could not initialize statement cache: %w", err)
		}
	}

	bus, err := events.NewTypedEventBus[MirrorEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	return &Mirror{
		schema:        table,
		compiler:      compiler,
		store:         store,
		cache:         cache,
		logger:        logger,
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// Schema returns the schema table of the mirror.
func (m *Mirror) Schema() *schema.Table {
	return m.schema
}

// Compile translates desc into a parameterized statement for resource,
// reusing a cached statement for identical inputs.
func (m *Mirror) Compile(resource string, desc *query.Description, opts query.Options) (query.Compiled, error) {
	var cached bool
	result, err := m.withEventEmission(
		"compile",
		QueryCompileStart,
		QueryCompileSuccess,
		QueryCompileFailed,
		resource,
		opts,
		desc,
		&cached,
		func() (any, error) {
			compiled, hit, err := m.compile(resource, desc, opts)
			cached = hit
			return compiled, err
		},
	)
	if err != nil {
		return query.Compiled{}, err
	}
	return result.(query.Compiled), nil
}

func (m *Mirror) compile(resource string, desc *query.Description, opts query.Options) (query.Compiled, bool, error) {
	if m.cache == nil {
		compiled, err := m.compiler.Compile(resource, desc, opts)
		return compiled, false, err
	}

	key, err := cacheKey(resource, desc, opts)
	if err != nil {
		return query.Compiled{}, false, err
	}
	if v, ok := m.cache.Get(key); ok {
		compiled := v.(query.Compiled)
		compiled.Parameters = slices.Clone(compiled.Parameters)
		return compiled, true, nil
	}

	compiled, err := m.compiler.Compile(resource, desc, opts)
	if err != nil {
		return query.Compiled{}, false, err
	}
	m.cache.Add(key, query.Compiled{SQL: compiled.SQL, Parameters: slices.Clone(compiled.Parameters)})
	return compiled, false, nil
}

// Read runs desc against resource. The description is compiled (and so
// validated) before the store sees it, whichever store backs the mirror.
func (m *Mirror) Read(ctx context.Context, resource string, desc *query.Description, opts query.Options) (*QueryResult, error) {
	result, err := m.withEventEmission(
		"read",
		QueryReadStart,
		QueryReadSuccess,
		QueryReadFailed,
		resource,
		opts,
		desc,
		nil,
		func() (any, error) {
			compiled, err := m.Compile(resource, desc, opts)
			if err != nil {
				return nil, err
			}
			docs, err := m.store.Read(ctx, Request{
				Resource:    resource,
				Description: desc,
				Options:     opts,
				Compiled:    compiled,
			})
			if err != nil {
				return nil, err
			}
			return &QueryResult{Data: docs, Count: len(docs)}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return result.(*QueryResult), nil
}

// ReadBuilder runs the description and options built by qb.
func (m *Mirror) ReadBuilder(ctx context.Context, resource string, qb *query.QueryBuilder) (*QueryResult, error) {
	desc := qb.Build()
	return m.Read(ctx, resource, &desc, qb.Options())
}

// ReadAs runs a read and decodes each document into T.
func ReadAs[T any](ctx context.Context, m *Mirror, resource string, desc *query.Description, opts query.Options) ([]T, error) {
	result, err := m.Read(ctx, resource, desc, opts)
	if err != nil {
		return nil, err
	}
	return utils.MapToStructs[T](result.Data)
}

// Ingest writes records into resource. Records may be structs, documents
// or slices of either; see utils.ToDocuments.
func (m *Mirror) Ingest(ctx context.Context, resource string, records any) (int64, error) {
	result, err := m.withEventEmission(
		"ingest",
		IngestStart,
		IngestSuccess,
		IngestFailed,
		resource,
		nil,
		nil,
		nil,
		func() (any, error) {
			if _, ok := m.schema.Lookup(resource); !ok {
				return nil, query.NewValidationError(query.UnsupportedResource, resource, "resource is not in the schema table")
			}
			docs, err := utils.ToDocuments(records)
			if err != nil {
				return nil, fmt.Errorf("invalid records for %s: %w", resource, err)
			}
			return m.store.Insert(ctx, resource, docs)
		},
	)
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// CachedStatements reports how many compiled statements are cached.
func (m *Mirror) CachedStatements() int {
	if m.cache == nil {
		return 0
	}
	return m.cache.Len()
}

// PurgeCache drops every cached statement.
func (m *Mirror) PurgeCache() {
	if m.cache != nil {
		m.cache.Purge()
	}
}
