package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowkit/flow"
)

// ParseFlow decodes a YAML flow definition into a spec. Defaults are
// normalized (edge type "forward", gate "any"); full validation happens
// when the executor runs the spec.
func ParseFlow(data []byte) (*flow.Spec, error) {
	var spec flow.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	normalizeFlow(&spec)
	return &spec, nil
}

// LoadFlow reads and parses a YAML flow definition from disk.
func LoadFlow(path string) (*flow.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	spec, err := ParseFlow(data)
	if err != nil {
		return nil, fmt.Errorf("flow file %s: %w", path, err)
	}
	return spec, nil
}

func normalizeFlow(spec *flow.Spec) {
	for i := range spec.Edges {
		if spec.Edges[i].Type == "" {
			spec.Edges[i].Type = flow.EdgeForward
		}
	}
	for i := range spec.Nodes {
		if spec.Nodes[i].Gate == "" {
			spec.Nodes[i].Gate = flow.GateAny
		}
	}
}
