package spec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
)

func validSpec() *spec.PipelineSpec {
	return &spec.PipelineSpec{
		Name:    "compendium",
		Version: "1.2.0",
		Transformers: []spec.TransformerSpec{
			{
				Name: "ingest",
				Stages: []spec.TransformerStageSpec{
					{
						Name: "scan",
						Processor: spec.ProcessorSpec{
							Name:   "scanner",
							Impl:   spec.ImplementationRef{Name: "file_scan"},
							Config: spec.Config{"root": "./data"},
						},
					},
					{
						Name: "hash",
						Processor: spec.ProcessorSpec{
							Name: "hasher",
							Impl: spec.ImplementationRef{Name: "digest"},
						},
						PostProcessor: &spec.PostProcessorSpec{
							Name: "archiver",
							Impl: spec.ImplementationRef{Name: "json_archive"},
						},
					},
				},
			},
			{
				Name: "publish",
				Stages: []spec.TransformerStageSpec{
					{
						Name: "archive",
						Processor: spec.ProcessorSpec{
							Name: "writer",
							Impl: spec.ImplementationRef{Name: "json_archive"},
						},
					},
				},
			},
		},
	}
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestValidateFailures(t *testing.T) {
	tests := map[string]func(p *spec.PipelineSpec){
		"missing pipeline name": func(p *spec.PipelineSpec) {
			p.Name = ""
		},
		"no transformers": func(p *spec.PipelineSpec) {
			p.Transformers = nil
		},
		"unnamed transformer": func(p *spec.PipelineSpec) {
			p.Transformers[0].Name = ""
		},
		"duplicate transformer": func(p *spec.PipelineSpec) {
			p.Transformers[1].Name = p.Transformers[0].Name
		},
		"transformer without stages": func(p *spec.PipelineSpec) {
			p.Transformers[0].Stages = nil
		},
		"unnamed stage": func(p *spec.PipelineSpec) {
			p.Transformers[0].Stages[0].Name = ""
		},
		"duplicate stage": func(p *spec.PipelineSpec) {
			p.Transformers[0].Stages[1].Name = p.Transformers[0].Stages[0].Name
		},
		"processor without impl": func(p *spec.PipelineSpec) {
			p.Transformers[0].Stages[0].Processor.Impl = spec.ImplementationRef{}
		},
		"postprocessor without impl": func(p *spec.PipelineSpec) {
			p.Transformers[0].Stages[1].PostProcessor.Impl = spec.ImplementationRef{}
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := validSpec()
			mutate(p)
			err := p.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, spec.ErrMalformed)
		})
	}
}

func TestDuplicateStageNamesAcrossTransformers(t *testing.T) {
	// Stage names only need to be unique within their own transformer.
	p := validSpec()
	p.Transformers[1].Stages[0].Name = p.Transformers[0].Stages[0].Name
	require.NoError(t, p.Validate())
}

func TestConfigGetters(t *testing.T) {
	c := spec.Config{
		"root":    "./data",
		"workers": 4,
		"strict":  true,
		"ratio":   2.0,
		"odd":     []string{"not", "scalar"},
	}

	require.Equal(t, "./data", c.String("root", "fallback"))
	require.Equal(t, "fallback", c.String("missing", "fallback"))
	require.Equal(t, "fallback", c.String("workers", "fallback"))

	require.Equal(t, 4, c.Int("workers", 1))
	require.Equal(t, 2, c.Int("ratio", 1))
	require.Equal(t, 1, c.Int("missing", 1))
	require.Equal(t, 1, c.Int("odd", 1))

	require.True(t, c.Bool("strict", false))
	require.False(t, c.Bool("missing", false))
	require.True(t, c.Bool("missing", true))
	require.False(t, c.Bool("root", false))

	require.True(t, c.Has("odd"))
	require.False(t, c.Has("missing"))
}

func TestSetParallel(t *testing.T) {
	p := validSpec()
	require.False(t, p.Parallel)
	p.SetParallel(true)
	require.True(t, p.Parallel)
	p.SetParallel(false)
	require.False(t, p.Parallel)
}

func TestSetMaxWorkers(t *testing.T) {
	p := validSpec()
	p.SetMaxWorkers(8)

	for _, tr := range p.Transformers {
		for _, st := range tr.Stages {
			require.Equal(t, 8, st.Processor.Config.Int(spec.ConfigKeyMaxWorkers, 0))
			if st.PostProcessor != nil {
				require.Equal(t, 8, st.PostProcessor.Config.Int(spec.ConfigKeyMaxWorkers, 0))
			}
		}
	}

	// Pre-existing values are replaced.
	p.SetMaxWorkers(2)
	require.Equal(t, 2, p.Transformers[0].Stages[0].Processor.Config.Int(spec.ConfigKeyMaxWorkers, 0))

	// Non-positive counts are ignored.
	p.SetMaxWorkers(0)
	require.Equal(t, 2, p.Transformers[0].Stages[0].Processor.Config.Int(spec.ConfigKeyMaxWorkers, 0))
}

func TestTransformerLookup(t *testing.T) {
	p := validSpec()

	tr, ok := p.Transformer("publish")
	require.True(t, ok)
	require.Equal(t, "publish", tr.Name)

	_, ok = p.Transformer("nope")
	require.False(t, ok)
}

func TestImplementationRefString(t *testing.T) {
	require.Equal(t, "digest", spec.ImplementationRef{Name: "digest"}.String())
	require.Equal(t, "digest (./plugins)", spec.ImplementationRef{Name: "digest", Location: "./plugins"}.String())
	require.True(t, spec.ImplementationRef{}.IsZero())
	require.False(t, spec.ImplementationRef{Name: "digest"}.IsZero())
}
