// Package utils converts between Go structs and the schema.Document rows
// stored in a mirror.
package utils

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/asaidimu/mirrorql/core/schema"
)

// StructToMap converts a Go struct into a schema.Document.
//
// The struct is marshaled to JSON and decoded back into a map, so `json`
// tags, omitempty and custom marshalers all apply. Nested structs become
// map[string]any values, which object columns store as JSON text.
//
// The input must be a struct or a non-nil pointer to one.
//
// Example:
//
//	type Device struct {
//		ID       string `json:"id"`
//		Platform string `json:"platform"`
//	}
//	doc, err := StructToMap(Device{ID: "d1", Platform: "ios"})
//	// doc is schema.Document{"id": "d1", "platform": "ios"}
func StructToMap[T any](record T) (schema.Document, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal input record to JSON: %w", err)
	}

	var doc schema.Document
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("StructToMap: failed to unmarshal JSON to document: %w", err)
	}
	return doc, nil
}

// ToDocuments converts records into documents. Records may be a single
// struct, a schema.Document or map[string]any, or a slice of any of them.
func ToDocuments(records any) ([]schema.Document, error) {
	switch r := records.(type) {
	case nil:
		return nil, fmt.Errorf("records cannot be nil")
	case schema.Document:
		return []schema.Document{r}, nil
	case map[string]any:
		return []schema.Document{r}, nil
	case []schema.Document:
		return r, nil
	case []map[string]any:
		out := make([]schema.Document, len(r))
		for i, m := range r {
			out[i] = m
		}
		return out, nil
	}

	val := reflect.ValueOf(records)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		doc, err := StructToMap(records)
		if err != nil {
			return nil, err
		}
		return []schema.Document{doc}, nil
	}

	out := make([]schema.Document, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		item := val.Index(i).Interface()
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
			continue
		}
		if m, ok := item.(schema.Document); ok {
			out = append(out, m)
			continue
		}
		doc, err := StructToMap(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// MapToStruct converts a document into a new instance of the struct type T.
// It is the inverse of StructToMap. If T is a pointer type, the document is
// decoded into a newly allocated struct.
//
// Example:
//
//	device, err := MapToStruct[Device](schema.Document{"id": "d1", "platform": "ios"})
//	// device is Device{ID: "d1", Platform: "ios"}
func MapToStruct[T any](input schema.Document) (T, error) {
	var zero T
	if input == nil {
		return zero, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got %v", typ)
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to marshal input map to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}

// MapToStructs converts every document with MapToStruct.
func MapToStructs[T any](docs []schema.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, doc := range docs {
		v, err := MapToStruct[T](doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
