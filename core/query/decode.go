package query

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeOptions converts a loosely typed option map (CLI flags, config
// files, JSON bodies) into Options. Numeric strings are accepted for page
// and pageSize.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if raw == nil {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("failed to decode query options: %w", err)
	}
	return opts, nil
}

// ParseDescription decodes a JSON query description.
func ParseDescription(data []byte) (*Description, error) {
	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse query description: %w", err)
	}
	return &desc, nil
}
