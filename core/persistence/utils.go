package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/google/uuid"
)

func createEvent(
	eventType MirrorEventType,
	operation string,
	resource string,
	input any,
	output any,
	q any,
	err error,
	startTime time.Time,
) MirrorEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	event := MirrorEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Operation: operation,
		Resource:  resource,
		Input:     input,
		Output:    output,
		Query:     q,
		Duration:  duration,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	return event
}

// cacheKey identifies a compiled statement by its inputs. JSON alone is
// not enough: a time.Time and its RFC 3339 text encode alike but bind
// different parameters, so the Go type of every bound value is appended.
func cacheKey(resource string, desc *query.Description, opts query.Options) (string, error) {
	data, err := json.Marshal(struct {
		Resource    string             `json:"resource"`
		Description *query.Description `json:"description"`
		Options     query.Options      `json:"options"`
	}{resource, desc, opts})
	if err != nil {
		return "", fmt.Errorf("failed to build cache key: %w", err)
	}

	var sb strings.Builder
	sb.Write(data)
	if desc != nil {
		writeFilterTypes(&sb, desc.Filters)
		if desc.Sort != nil && desc.Sort.CustomSort != nil {
			for _, m := range desc.Sort.CustomSort.AttributeMap {
				fmt.Fprintf(&sb, "|%T:%T", m.Value, m.Priority)
			}
		}
	}
	return sb.String(), nil
}

func writeFilterTypes(sb *strings.Builder, filters *query.Filters) {
	if filters.IsEmpty() {
		return
	}
	for _, ff := range filters.Fields {
		for _, c := range ff.Conditions {
			fmt.Fprintf(sb, "|%T", c.Value)
		}
	}
	for _, j := range filters.Joins {
		sb.WriteString("|join(")
		writeFilterTypes(sb, j.NestedFilters())
		sb.WriteString(")")
	}
}
