package persistence

import (
	"errors"
	"time"

	"github.com/asaidimu/mirrorql/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// emitEvent is a helper method to emit events
func (m *Mirror) emitEvent(event MirrorEvent) {
	if m.bus != nil {
		m.bus.Emit(string(event.Type), event)
	}
}

// withEventEmission wraps an operation with start, success, and failure
// events. When cached is non-nil, its value after fn returns is recorded on
// the success event.
func (m *Mirror) withEventEmission(
	operation string,
	startEventType MirrorEventType,
	successEventType MirrorEventType,
	failedEventType MirrorEventType,
	resource string,
	input any,
	queryParam any,
	cached *bool,
	fn func() (any, error),
) (any, error) {
	startTime := time.Now()
	m.emitEvent(createEvent(startEventType, operation, resource, input, nil, queryParam, nil, startTime))

	result, err := fn()
	if err != nil {
		failEvent := createEvent(failedEventType, operation, resource, input, nil, queryParam, err, startTime)
		var docErr *schema.DocumentError
		if errors.As(err, &docErr) {
			failEvent.Issues = docErr.Issues
		}
		m.emitEvent(failEvent)
		m.logger.Debug("Mirror operation failed",
			zap.String("operation", operation),
			zap.String("resource", resource),
			zap.Error(err),
		)
		return nil, err
	}

	successEvent := createEvent(successEventType, operation, resource, input, result, queryParam, nil, startTime)
	if cached != nil {
		successEvent.Cached = *cached
	}
	m.emitEvent(successEvent)
	return result, nil
}

// RegisterSubscription registers a callback for a specific mirror event. It
// returns a unique ID that can be used to unregister the subscription later.
func (m *Mirror) RegisterSubscription(options RegisterSubscriptionOptions) string {
	m.subMu.Lock()
	unsubscribe := m.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()
	m.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	m.subMu.Unlock()

	m.emitEvent(createEvent(SubscriptionRegister, "register_subscription", "",
		map[string]any{"event": options.Event, "label": options.Label},
		map[string]any{"subscriptionId": id}, nil, nil, time.Time{}))
	return id
}

// UnregisterSubscription removes a subscription by its ID. Unknown IDs are
// ignored.
func (m *Mirror) UnregisterSubscription(id string) {
	m.subMu.Lock()
	info, ok := m.subscriptions[id]
	if ok {
		info.Unsubscribe()
		delete(m.subscriptions, id)
	}
	m.subMu.Unlock()

	if ok {
		m.emitEvent(createEvent(SubscriptionUnregister, "unregister_subscription", "",
			map[string]any{"subscriptionId": id}, nil, nil, nil, time.Time{}))
	}
}

// Subscriptions returns a list of all currently active subscriptions.
func (m *Mirror) Subscriptions() []SubscriptionInfo {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}
