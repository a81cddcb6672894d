package plugin

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration is returned when a plugin configuration does not
// decode into the plugin's configuration type.
var ErrInvalidConfiguration = errors.New("invalid plugin configuration")

// Decode decodes a raw configuration map into out, honouring its yaml tags.
// Durations accept Go duration strings such as "250ms".
func Decode(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return nil
}

// Merge returns a new map holding base overlaid by override.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
