// Package schema provides the Validator, which checks a Document against the
// columns of a Resource before it is written to the mirror, coercing loosely
// typed values where the column type allows it.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Issue represents a single validation problem found in a document.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity"`
}

// Issue codes reported by the Validator.
const (
	IssueRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	IssueUnexpectedField      = "UNEXPECTED_FIELD"
	IssueTypeMismatch         = "TYPE_MISMATCH"
	IssueNullValue            = "NULL_VALUE"
)

// DocumentError reports a document that failed validation.
type DocumentError struct {
	Resource string
	Issues   []Issue
}

func (e *DocumentError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", issue.Path, issue.Message)
	}
	return fmt.Sprintf("invalid document for resource '%s': %s", e.Resource, strings.Join(parts, "; "))
}

// Validator is responsible for validating documents against a resource. It
// checks column types and required columns. A Validator is not safe for
// concurrent use; create one per goroutine.
type Validator struct {
	resource *Resource
	issues   []Issue
}

// NewValidator creates a new Validator for res. The returned validator can be
// reused for multiple validation operations.
func NewValidator(res *Resource) *Validator {
	return &Validator{resource: res}
}

// Validate checks doc against the resource. It returns a copy of doc with
// coerced values and the issues found. The loose flag ignores missing
// required columns, for partial documents.
func (v *Validator) Validate(doc Document, loose bool) (Document, []Issue) {
	v.issues = nil
	out := make(Document, len(doc))

	for _, column := range v.resource.Columns {
		value, exists := doc[column.Name]
		if !exists {
			if column.Required && !loose {
				v.addIssue(IssueRequiredFieldMissing, fmt.Sprintf("Required column '%s' is missing", column.Name), column.Name)
			}
			continue
		}
		if coerced, ok := v.validateValue(value, column); ok {
			out[column.Name] = coerced
		}
	}

	for key := range doc {
		if !v.resource.HasColumn(key) {
			v.addIssue(IssueUnexpectedField, fmt.Sprintf("Unexpected column '%s' not defined in resource", key), key)
		}
	}
	return out, v.issues
}

// Check is Validate returning a DocumentError instead of the issue list.
func (v *Validator) Check(doc Document, loose bool) (Document, error) {
	out, issues := v.Validate(doc, loose)
	if len(issues) > 0 {
		return nil, &DocumentError{Resource: v.resource.Name, Issues: issues}
	}
	return out, nil
}

func (v *Validator) validateValue(value any, column Column) (any, bool) {
	if value == nil || isStringNull(value) {
		if column.Required {
			v.addIssue(IssueNullValue, "Column cannot be null", column.Name)
			return nil, false
		}
		return nil, true
	}

	if coerced, ok := coerceValue(value, column.Type); ok {
		value = coerced
	}
	if !matchesType(value, column.Type) {
		v.addIssue(IssueTypeMismatch, fmt.Sprintf("Expected %s, got %T", column.Type, value), column.Name)
		return nil, false
	}
	return value, true
}

// isStringNull checks if a value is the string "null", case-insensitively.
func isStringNull(value any) bool {
	if str, ok := value.(string); ok {
		return strings.ToLower(str) == "null"
	}
	return false
}

// coerceValue attempts to convert a string to the expected type. Date
// strings are parsed so they are stored in one canonical form.
func coerceValue(value any, expectedType FieldType) (any, bool) {
	str, ok := value.(string)
	if !ok {
		return value, false
	}

	switch expectedType {
	case FieldTypeBoolean:
		switch strings.ToLower(str) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	case FieldTypeInteger:
		if intVal, err := strconv.ParseInt(str, 10, 64); err == nil {
			return intVal, true
		}
	case FieldTypeNumber:
		if floatVal, err := strconv.ParseFloat(str, 64); err == nil {
			return floatVal, true
		}
	case FieldTypeDateTime:
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return t.UTC(), true
		}
	}
	return value, false
}

// matchesType checks if a value's type matches the expected type. Columns
// without a declared type accept anything.
func matchesType(value any, expectedType FieldType) bool {
	switch expectedType {
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeNumber:
		return isNumericType(value)
	case FieldTypeInteger:
		if f, ok := value.(float64); ok {
			return f == float64(int64(f))
		}
		return isIntegerType(value)
	case FieldTypeBoolean:
		_, ok := value.(bool)
		return ok
	case FieldTypeDateTime:
		switch value.(type) {
		case time.Time, *time.Time:
			return true
		}
		return false
	}
	return true
}

// isNumericType checks if a value is a numeric type.
func isNumericType(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// isIntegerType checks if a value is an integer type.
func isIntegerType(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// addIssue adds a new validation issue to the validator's list of issues.
func (v *Validator) addIssue(code, message, path string) {
	v.issues = append(v.issues, Issue{
		Code:     code,
		Message:  message,
		Path:     path,
		Severity: "error",
	})
}
