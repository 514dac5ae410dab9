package engine

import (
	"fmt"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/registry"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

// Pipeline is the runtime object graph built from a validated specification.
// Stages hold live unit instances, not specs. The graph is built once and
// treated as read-only during execution; only the units' own internal state
// may change.
type Pipeline struct {
	Spec         *spec.PipelineSpec
	Transformers []*Transformer
}

// Transformer is a named phase of work holding an ordered list of stages.
type Transformer struct {
	Spec   spec.TransformerSpec
	Stages []*TransformerStage
}

// TransformerStage pairs a resolved processor with a resolved postprocessor.
// Stages declared without a postprocessor get unit.Identity.
type TransformerStage struct {
	Spec          spec.TransformerStageSpec
	Processor     unit.Processor
	PostProcessor unit.PostProcessor
}

// buildPipeline resolves every unit reference in ps through reg. The build
// fails fast: the first unresolvable stage aborts the whole build, naming the
// stage and slot that failed.
func buildPipeline(ps *spec.PipelineSpec, reg *registry.Registry) (*Pipeline, error) {
	p := &Pipeline{
		Spec:         ps,
		Transformers: make([]*Transformer, 0, len(ps.Transformers)),
	}
	for _, ts := range ps.Transformers {
		tr := &Transformer{
			Spec:   ts,
			Stages: make([]*TransformerStage, 0, len(ts.Stages)),
		}
		for _, ss := range ts.Stages {
			proc, err := reg.ResolveProcessor(ss.Processor)
			if err != nil {
				return nil, fmt.Errorf("stage %s/%s: resolve processor: %w", ts.Name, ss.Name, err)
			}
			var post unit.PostProcessor = unit.Identity{}
			if ss.PostProcessor != nil {
				post, err = reg.ResolvePostProcessor(*ss.PostProcessor)
				if err != nil {
					return nil, fmt.Errorf("stage %s/%s: resolve postprocessor: %w", ts.Name, ss.Name, err)
				}
			}
			tr.Stages = append(tr.Stages, &TransformerStage{
				Spec:          ss,
				Processor:     proc,
				PostProcessor: post,
			})
		}
		p.Transformers = append(p.Transformers, tr)
	}
	return p, nil
}

// Validate checks the wiring of the graph without invoking any unit. The
// returned problems are empty for a well-built graph; dry-run records them
// as run errors.
func (p *Pipeline) Validate() []string {
	var problems []string
	if len(p.Transformers) == 0 {
		problems = append(problems, fmt.Sprintf("pipeline %q has no transformers", p.Spec.Name))
	}
	for _, tr := range p.Transformers {
		if len(tr.Stages) == 0 {
			problems = append(problems, fmt.Sprintf("transformer %q has no stages", tr.Spec.Name))
		}
		for _, st := range tr.Stages {
			if st.Processor == nil {
				problems = append(problems, fmt.Sprintf("stage %s/%s has no processor", tr.Spec.Name, st.Spec.Name))
			}
			if st.PostProcessor == nil {
				problems = append(problems, fmt.Sprintf("stage %s/%s has no postprocessor", tr.Spec.Name, st.Spec.Name))
			}
		}
	}
	return problems
}

// StageCount returns the total number of stages across all transformers.
func (p *Pipeline) StageCount() int {
	n := 0
	for _, tr := range p.Transformers {
		n += len(tr.Stages)
	}
	return n
}

// findStart locates the resume target named by startFrom. Accepted forms are
// a transformer name (resume at its first stage), a qualified
// "transformer/stage", or a bare stage name (first match in declaration
// order). Stage names are only unique within their transformer, so the
// qualified form disambiguates pipelines that reuse stage names.
func (p *Pipeline) findStart(startFrom string) (ti, si int, err error) {
	for i, tr := range p.Transformers {
		if tr.Spec.Name == startFrom {
			return i, 0, nil
		}
	}
	if t, s, ok := splitStagePath(startFrom); ok {
		for i, tr := range p.Transformers {
			if tr.Spec.Name != t {
				continue
			}
			for j, st := range tr.Stages {
				if st.Spec.Name == s {
					return i, j, nil
				}
			}
		}
		return 0, 0, fmt.Errorf("%w: %q", ErrStartNotFound, startFrom)
	}
	for i, tr := range p.Transformers {
		for j, st := range tr.Stages {
			if st.Spec.Name == startFrom {
				return i, j, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrStartNotFound, startFrom)
}

func splitStagePath(s string) (transformer, stage string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], s[:i] != "" && s[i+1:] != ""
		}
	}
	return "", "", false
}
