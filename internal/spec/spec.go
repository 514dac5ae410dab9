// Package spec defines the declarative pipeline specification model: a
// validated, pure-data description of transformers, stages, and the units
// that implement them. The runtime graph in internal/engine is built from
// this model; the model itself carries no behavior beyond validation and the
// explicit pre-build overrides.
package spec

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by all load-time failures: unreadable documents,
// type errors, and structural validation problems. Callers use errors.Is to
// distinguish "the specification is bad" from I/O trouble.
var ErrMalformed = errors.New("malformed pipeline specification")

// Well-known config keys understood by the engine and the built-in units.
// Units are free to define additional keys; unrecognized keys pass through
// opaquely.
const (
	ConfigKeyParallel   = "parallel"
	ConfigKeyMaxWorkers = "max_workers"
)

// Config is the open configuration map attached to a unit spec. Each unit
// extracts and validates the subset of keys it understands; the typed getters
// default sensibly when a key is absent or holds the wrong type.
type Config map[string]any

// String returns the string value for key, or def when absent or mistyped.
func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the integer value for key, or def when absent or mistyped.
// YAML decodes whole numbers as int, but float64 is accepted for JSON-sourced
// maps.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns the boolean value for key, or def when absent or mistyped.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Has reports whether key is present at all, regardless of type.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// ImplementationRef identifies which concrete unit to instantiate: a
// registered name, plus an optional location to discover candidates in when
// the name is not registered yet.
type ImplementationRef struct {
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
}

// IsZero reports whether the reference carries no information.
func (r ImplementationRef) IsZero() bool { return r.Name == "" && r.Location == "" }

func (r ImplementationRef) String() string {
	if r.Location == "" {
		return r.Name
	}
	return r.Name + " (" + r.Location + ")"
}

// ProcessorSpec declares a stage's primary unit: a stage-local name, the
// implementation reference to resolve, and the unit's open config map.
type ProcessorSpec struct {
	Name   string            `yaml:"name" json:"name"`
	Impl   ImplementationRef `yaml:"impl" json:"impl"`
	Config Config            `yaml:"config,omitempty" json:"config,omitempty"`
}

// PostProcessorSpec declares a stage's optional refinement unit with the same
// shape as ProcessorSpec. When absent from a stage, the engine substitutes an
// identity unit.
type PostProcessorSpec struct {
	Name   string            `yaml:"name" json:"name"`
	Impl   ImplementationRef `yaml:"impl" json:"impl"`
	Config Config            `yaml:"config,omitempty" json:"config,omitempty"`
}

// TransformerStageSpec pairs a mandatory processor with an optional
// postprocessor under a stage name.
type TransformerStageSpec struct {
	Name          string             `yaml:"name" json:"name"`
	Processor     ProcessorSpec      `yaml:"processor" json:"processor"`
	PostProcessor *PostProcessorSpec `yaml:"postprocessor,omitempty" json:"postprocessor,omitempty"`
}

// TransformerSpec groups the stages that make up one coherent phase of work.
type TransformerSpec struct {
	Name   string                 `yaml:"name" json:"name"`
	Stages []TransformerStageSpec `yaml:"stages" json:"stages"`
}

// CheckpointSpec controls checkpoint persistence for a pipeline.
type CheckpointSpec struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// PipelineSpec is the root of the specification model. It is created once
// from a configuration document and treated as immutable afterwards, except
// for the explicit overrides below, which must be applied before the runtime
// graph is built.
type PipelineSpec struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version,omitempty" json:"version,omitempty"`
	Parallel     bool              `yaml:"parallel" json:"parallel"`
	Checkpoints  CheckpointSpec    `yaml:"checkpoints,omitempty" json:"checkpoints,omitempty"`
	Transformers []TransformerSpec `yaml:"transformers" json:"transformers"`
}

// SetParallel forces the global parallelism flag on or off. Caller-driven
// override; must happen before graph build.
func (p *PipelineSpec) SetParallel(enabled bool) {
	p.Parallel = enabled
}

// SetMaxWorkers injects a uniform worker-count override into every
// processor and postprocessor config map. Existing per-stage values are
// replaced; units read the key back through Config.Int.
func (p *PipelineSpec) SetMaxWorkers(n int) {
	if n < 1 {
		return
	}
	for ti := range p.Transformers {
		for si := range p.Transformers[ti].Stages {
			st := &p.Transformers[ti].Stages[si]
			if st.Processor.Config == nil {
				st.Processor.Config = Config{}
			}
			st.Processor.Config[ConfigKeyMaxWorkers] = n
			if st.PostProcessor != nil {
				if st.PostProcessor.Config == nil {
					st.PostProcessor.Config = Config{}
				}
				st.PostProcessor.Config[ConfigKeyMaxWorkers] = n
			}
		}
	}
}

// Transformer returns the named transformer spec, if present.
func (p *PipelineSpec) Transformer(name string) (TransformerSpec, bool) {
	for _, t := range p.Transformers {
		if t.Name == name {
			return t, true
		}
	}
	return TransformerSpec{}, false
}

// Validate checks the structural invariants of the specification. All
// problems wrap ErrMalformed so callers can classify the failure without
// string matching.
func (p *PipelineSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrMalformed)
	}
	if len(p.Transformers) == 0 {
		return fmt.Errorf("%w: pipeline %q declares no transformers", ErrMalformed, p.Name)
	}
	seenTransformers := make(map[string]struct{}, len(p.Transformers))
	for _, t := range p.Transformers {
		if t.Name == "" {
			return fmt.Errorf("%w: pipeline %q has a transformer without a name", ErrMalformed, p.Name)
		}
		if _, dup := seenTransformers[t.Name]; dup {
			return fmt.Errorf("%w: duplicate transformer name %q", ErrMalformed, t.Name)
		}
		seenTransformers[t.Name] = struct{}{}

		if len(t.Stages) == 0 {
			return fmt.Errorf("%w: transformer %q declares no stages", ErrMalformed, t.Name)
		}
		seenStages := make(map[string]struct{}, len(t.Stages))
		for _, s := range t.Stages {
			if s.Name == "" {
				return fmt.Errorf("%w: transformer %q has a stage without a name", ErrMalformed, t.Name)
			}
			if _, dup := seenStages[s.Name]; dup {
				return fmt.Errorf("%w: duplicate stage name %q in transformer %q", ErrMalformed, s.Name, t.Name)
			}
			seenStages[s.Name] = struct{}{}

			if s.Processor.Impl.Name == "" {
				return fmt.Errorf("%w: stage %q/%q declares no processor implementation", ErrMalformed, t.Name, s.Name)
			}
			if s.PostProcessor != nil && s.PostProcessor.Impl.Name == "" {
				return fmt.Errorf("%w: stage %q/%q declares a postprocessor without an implementation", ErrMalformed, t.Name, s.Name)
			}
		}
	}
	return nil
}
