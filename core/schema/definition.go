// Package schema defines the Resource Schema Table: the allow-list of mirrored
// resources, the table each one is stored in and the ordered columns the
// query compiler may reference.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Document is a single row of a mirrored resource.
type Document map[string]any

// FieldType represents the storage types a mirrored column may declare.
type FieldType string

const (
	FieldTypeString   FieldType = "string"   // Text data
	FieldTypeNumber   FieldType = "number"   // Floating point data
	FieldTypeInteger  FieldType = "integer"  // Whole numbers
	FieldTypeBoolean  FieldType = "boolean"  // Stored as 0/1
	FieldTypeDateTime FieldType = "datetime" // ISO-8601 text
	FieldTypeObject   FieldType = "object"   // JSON text
)

// DefaultSortColumn is the column ordered on when a query carries no usable sort.
const DefaultSortColumn = "created_time"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be interpolated into SQL as a bare
// table, column or alias name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Column is one column of a mirrored resource.
type Column struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type,omitempty" yaml:"type,omitempty"`
	// Required columns must be present and non-null in written documents.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Resource describes a mirrored resource.
type Resource struct {
	// Name is the resource name callers query by, e.g. "auth-method".
	Name string `json:"name" yaml:"name"`
	// Table overrides the table identifier. Defaults to Name with dashes
	// replaced by underscores.
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
	// Columns are the valid columns, in declaration order.
	Columns []Column `json:"columns" yaml:"columns"`
	// SearchColumns are the columns mirrored into the <table>_fts shadow
	// index. A resource without search columns is not searchable.
	SearchColumns []string `json:"searchColumns,omitempty" yaml:"searchColumns,omitempty"`
}

// TableName returns the table identifier the resource is stored in.
func (r *Resource) TableName() string {
	if r.Table != "" {
		return r.Table
	}
	return strings.ReplaceAll(r.Name, "-", "_")
}

// SearchTableName returns the identifier of the full-text shadow index.
func (r *Resource) SearchTableName() string {
	return r.TableName() + "_fts"
}

// HasColumn reports whether name is a declared column.
func (r *Resource) HasColumn(name string) bool {
	return r.Column(name) != nil
}

// Column returns the named column, or nil.
func (r *Resource) Column(name string) *Column {
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			return &r.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (r *Resource) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Searchable reports whether the resource has a full-text shadow index.
func (r *Resource) Searchable() bool {
	return len(r.SearchColumns) > 0
}

// IsSearchColumn reports whether name is mirrored into the shadow index.
func (r *Resource) IsSearchColumn(name string) bool {
	for _, c := range r.SearchColumns {
		if c == name {
			return true
		}
	}
	return false
}

func (r *Resource) validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}
	if !ValidIdentifier(r.TableName()) {
		return fmt.Errorf("resource '%s': table '%s' is not a valid identifier", r.Name, r.TableName())
	}
	if len(r.Columns) == 0 {
		return fmt.Errorf("resource '%s' must declare at least one column", r.Name)
	}
	seen := make(map[string]struct{}, len(r.Columns))
	for _, c := range r.Columns {
		if !ValidIdentifier(c.Name) {
			return fmt.Errorf("resource '%s': column '%s' is not a valid identifier", r.Name, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("resource '%s': duplicate column '%s'", r.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for _, c := range r.SearchColumns {
		if _, ok := seen[c]; !ok {
			return fmt.Errorf("resource '%s': search column '%s' is not a declared column", r.Name, c)
		}
	}
	return nil
}

// Table is the Resource Schema Table. It is immutable once built and safe
// for concurrent use.
type Table struct {
	resources map[string]*Resource
	order     []string
}

// NewTable validates the resources and builds a Table from them.
func NewTable(resources ...Resource) (*Table, error) {
	t := &Table{resources: make(map[string]*Resource, len(resources))}
	tables := make(map[string]string, len(resources))
	for i := range resources {
		r := resources[i]
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.resources[r.Name]; dup {
			return nil, fmt.Errorf("duplicate resource '%s'", r.Name)
		}
		if other, dup := tables[r.TableName()]; dup {
			return nil, fmt.Errorf("resources '%s' and '%s' share table '%s'", other, r.Name, r.TableName())
		}
		tables[r.TableName()] = r.Name
		t.resources[r.Name] = &r
		t.order = append(t.order, r.Name)
	}
	return t, nil
}

// MustTable is like NewTable but panics on error. Intended for static tables.
func MustTable(resources ...Resource) *Table {
	t, err := NewTable(resources...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the resource registered under name.
func (t *Table) Lookup(name string) (*Resource, bool) {
	if t == nil {
		return nil, false
	}
	r, ok := t.resources[name]
	return r, ok
}

// Resources returns the registered resources in registration order.
func (t *Table) Resources() []*Resource {
	out := make([]*Resource, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.resources[name])
	}
	return out
}
