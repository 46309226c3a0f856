package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a flow document. YAML is assumed unless the name ends in .json.
// Unknown fields are rejected so typos in authored flows surface early.
func Parse(name string, data []byte) (*Definition, error) {
	var def Definition
	if strings.EqualFold(filepath.Ext(name), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("flow: decode %s: %w", name, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("flow: decode %s: %w", name, err)
		}
	}
	for i := range def.Steps {
		for j := range def.Steps[i].Responses {
			resp := &def.Steps[i].Responses[j]
			if resp.Action == "" {
				resp.Action = ActionContinue
			}
		}
	}
	return &def, nil
}
