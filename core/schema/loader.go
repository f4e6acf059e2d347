package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a schema table document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// tableDocument is the on-disk shape of a schema table.
type tableDocument struct {
	Resources []Resource `json:"resources" yaml:"resources"`
}

// LoadTable decodes a schema table document from r.
func LoadTable(r io.Reader, format Format) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema table: %w", err)
	}

	var doc tableDocument
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error unmarshaling YAML schema table: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("error unmarshaling JSON schema table: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema table format: %s", format)
	}
	return NewTable(doc.Resources...)
}

// LoadTableFile reads a schema table from path. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema table %s: %w", path, err)
	}
	defer f.Close()

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return LoadTable(f, format)
}
