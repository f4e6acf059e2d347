package persistence

import (
	"context"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
)

// MirrorEventType defines the possible event types for mirror operations.
type MirrorEventType string

const (
	QueryCompileStart      MirrorEventType = "query:compile:start"
	QueryCompileSuccess    MirrorEventType = "query:compile:success"
	QueryCompileFailed     MirrorEventType = "query:compile:failed"
	QueryReadStart         MirrorEventType = "query:read:start"
	QueryReadSuccess       MirrorEventType = "query:read:success"
	QueryReadFailed        MirrorEventType = "query:read:failed"
	IngestStart            MirrorEventType = "mirror:ingest:start"
	IngestSuccess          MirrorEventType = "mirror:ingest:success"
	IngestFailed           MirrorEventType = "mirror:ingest:failed"
	SubscriptionRegister   MirrorEventType = "subscription:register"
	SubscriptionUnregister MirrorEventType = "subscription:unregister"
)

// MirrorEvent represents events emitted during mirror operations.
type MirrorEvent struct {
	ID        string          `json:"id"`                 // Unique identifier of the event.
	Type      MirrorEventType `json:"type"`               // The type of event (e.g., 'query:read:start').
	Timestamp int64           `json:"timestamp"`          // Timestamp when the event occurred (Unix milliseconds).
	Operation string          `json:"operation"`          // The operation being performed (e.g., 'read').
	Resource  string          `json:"resource,omitempty"` // Name of the resource affected (if applicable).
	Input     any             `json:"input,omitempty"`    // Data passed to the operation (if applicable).
	Output    any             `json:"output,omitempty"`   // Data returned by the operation (if applicable).
	Error     *string         `json:"error,omitempty"`    // Error message if the operation failed.
	Issues    []schema.Issue  `json:"issues,omitempty"`   // Document issues that caused the operation to fail.
	Query     any             `json:"query,omitempty"`    // Description used in the operation (if applicable).
	Cached    bool            `json:"cached,omitempty"`   // Set when a compiled statement came from the cache.
	Duration  *int64          `json:"duration,omitempty"` // Duration of the operation in milliseconds.
}

// EventCallbackFunction receives mirror events. Delivery is asynchronous.
type EventCallbackFunction func(ctx context.Context, event MirrorEvent) error

// RegisterSubscriptionOptions describes a subscription to register.
type RegisterSubscriptionOptions struct {
	Event       MirrorEventType `json:"event"`
	Label       *string         `json:"label,omitempty"`
	Description *string         `json:"description,omitempty"`
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	Id          *string         `json:"id"`                    // Identifier returned by RegisterSubscription.
	Event       MirrorEventType `json:"event"`                 // The event subscribed to.
	Label       *string         `json:"label,omitempty"`       // Optional short identifier.
	Description *string         `json:"description,omitempty"` // Optional description.
	Unsubscribe func()          `json:"-"`
}

// Request is a read against one resource. Compiled holds the SQLite
// statement for the description, already validated against the schema.
type Request struct {
	Resource    string
	Description *query.Description
	Options     query.Options
	Compiled    query.Compiled
}

// Store is the backing storage of a Mirror.
type Store interface {
	// Read returns the documents selected by req.
	Read(ctx context.Context, req Request) ([]schema.Document, error)
	// Insert writes docs into resource and returns the number written.
	Insert(ctx context.Context, resource string, docs []schema.Document) (int64, error)
}

// QueryResult is the outcome of a read.
type QueryResult struct {
	Data  []schema.Document `json:"data"`
	Count int               `json:"count"`
}
