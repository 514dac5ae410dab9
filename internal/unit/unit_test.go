package unit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

var (
	_ unit.PostProcessor = unit.Identity{}
	_ unit.Processor     = unit.ProcessorFunc(nil)
	_ unit.PostProcessor = unit.PostProcessorFunc(nil)
)

func TestIdentityPassesThrough(t *testing.T) {
	out := unit.Output{
		Payload:  []string{"a", "b"},
		Metadata: map[string]any{"count": 2},
	}

	got, err := unit.Identity{}.Postprocess(context.Background(), out, nil)
	require.NoError(t, err)
	require.Equal(t, out, got)
}

func TestProcessorFunc(t *testing.T) {
	p := unit.ProcessorFunc(func(_ context.Context, in unit.Input, ec *unit.ExecutionContext) (unit.Output, error) {
		ec.AddItems(1)
		return unit.Output{Payload: in.Payload}, nil
	})

	ec := unit.NewExecutionContext("p", "run-1")
	got, err := p.Process(context.Background(), unit.Input{Payload: "x"}, ec)
	require.NoError(t, err)
	require.Equal(t, "x", got.Payload)
	require.EqualValues(t, 1, ec.ItemsProcessed())
}

func TestPostProcessorFunc(t *testing.T) {
	pp := unit.PostProcessorFunc(func(_ context.Context, out unit.Output, _ *unit.ExecutionContext) (unit.Output, error) {
		out.Payload = "wrapped"
		return out, nil
	})

	got, err := pp.Postprocess(context.Background(), unit.Output{Payload: "raw"}, nil)
	require.NoError(t, err)
	require.Equal(t, "wrapped", got.Payload)
}

func TestFatal(t *testing.T) {
	base := errors.New("bad payload")

	require.Nil(t, unit.Fatal(nil))
	require.False(t, unit.IsFatal(nil))
	require.False(t, unit.IsFatal(base))

	fatal := unit.Fatal(base)
	require.True(t, unit.IsFatal(fatal))
	require.ErrorIs(t, fatal, base)
	require.Equal(t, "bad payload", fatal.Error())

	// Marker survives further wrapping.
	wrapped := fmt.Errorf("validate input: %w", fatal)
	require.True(t, unit.IsFatal(wrapped))
	require.ErrorIs(t, wrapped, base)
}
