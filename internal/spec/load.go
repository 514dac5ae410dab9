package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML pipeline specification from path, decodes it, and
// validates it. The returned spec is ready for graph construction.
func Load(path string) (*PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline spec %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load pipeline spec %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML document into a PipelineSpec and validates it.
// Decode failures and validation failures both wrap ErrMalformed.
func Parse(data []byte) (*PipelineSpec, error) {
	var p PipelineSpec
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
