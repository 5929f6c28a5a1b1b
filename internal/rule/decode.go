package rule

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeWire reads a wire rule written as JSON or YAML. JSON is valid YAML,
// so both go through the YAML decoder and are then mapped onto the JSON tags.
func DecodeWire(data []byte) (WireRule, error) {
	var w WireRule
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return w, fmt.Errorf("parse rule: %w", err)
	}
	if doc == nil {
		return w, errors.New("parse rule: empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return w, fmt.Errorf("parse rule: %w", err)
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, fmt.Errorf("parse rule: %w", err)
	}
	return w, nil
}
