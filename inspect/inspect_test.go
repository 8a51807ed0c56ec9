package inspect

import (
	"context"
	"strconv"
	"testing"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves a fixed ref -> children map, recording how many
// times it was called so tests can assert the budget actually bounds
// fetch fan-out.
type fakeFetcher struct {
	children map[int][]godap.Variable
	calls    int
}

func (f *fakeFetcher) FetchVariables(ctx context.Context, ref int) ([]godap.Variable, error) {
	f.calls++
	return f.children[ref], nil
}

func TestRenderScalar(t *testing.T) {
	f := &fakeFetcher{}
	res, err := Render(context.Background(), f, "x", "int", 0, "", "42", 0)
	require.NoError(t, err)
	require.Equal(t, Scalar, res.Kind)
	require.Equal(t, "42", res.Scalar)
	require.Equal(t, 0, f.calls, "a ref of 0 means no children to fetch")
}

func TestRenderMapping(t *testing.T) {
	f := &fakeFetcher{
		children: map[int][]godap.Variable{
			1: {
				{Name: "b", Value: "2"},
				{Name: "a", Value: "1"},
			},
		},
	}
	res, err := Render(context.Background(), f, "d", "dict", 1, "dictionary", "", 0)
	require.NoError(t, err)
	require.Equal(t, Mapping, res.Kind)
	require.Equal(t, []string{"a: 1", "b: 2"}, res.Preview, "mapping entries are sorted by key")
}

func TestRenderMappingTruncatesAtPreviewMax(t *testing.T) {
	children := make([]godap.Variable, mappingPreviewMax+5)
	for i := range children {
		children[i] = godap.Variable{Name: strconv.Itoa(1000 + i), Value: "v"}
	}
	f := &fakeFetcher{children: map[int][]godap.Variable{1: children}}

	res, err := Render(context.Background(), f, "d", "dict", 1, "dictionary", "", 0)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Len(t, res.Preview, mappingPreviewMax)
}

func TestRenderSequence(t *testing.T) {
	f := &fakeFetcher{
		children: map[int][]godap.Variable{
			1: {{Name: "0", Value: "x"}, {Name: "1", Value: "y"}},
		},
	}
	res, err := Render(context.Background(), f, "l", "list", 1, "array", "", 0)
	require.NoError(t, err)
	require.Equal(t, Sequence, res.Kind)
	require.Equal(t, []string{"[0] x", "[1] y"}, res.Preview)
}

func TestRenderTabular(t *testing.T) {
	f := &fakeFetcher{
		children: map[int][]godap.Variable{
			1: {
				{Name: "shape", Value: "(3, 2)"},
				{Name: "dtypes", VariablesReference: 2},
			},
			2: {
				{Name: "a", Type: "int64"},
				{Name: "b", Type: "float64"},
			},
		},
	}
	res, err := Render(context.Background(), f, "df", "DataFrame", 1, "", "", 0)
	require.NoError(t, err)
	require.Equal(t, Tabular, res.Kind)
	require.Equal(t, "(3, 2)", res.Header["shape"])
	require.Len(t, res.Columns, 2)
}

func TestBudgetExhaustionStopsFetching(t *testing.T) {
	f := &fakeFetcher{
		children: map[int][]godap.Variable{
			1: {{Name: "shape", Value: "(1,)"}, {Name: "data", VariablesReference: 2}},
			2: {{Name: "0", Value: "1.0", VariablesReference: 3}},
			3: {{Name: "0", Value: "1.0"}},
		},
	}
	// Budget of 1 is consumed by the top-level fetch itself, so the
	// array-axis walk must not issue any further fetches.
	res, err := Render(context.Background(), f, "arr", "ndarray", 1, "", "", 1)
	require.NoError(t, err)
	require.Equal(t, Array, res.Kind)
	require.True(t, res.Truncated)
	require.Equal(t, 1, f.calls)
}
