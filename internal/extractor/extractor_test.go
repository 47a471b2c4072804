package extractor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neo4j-query-exporter/internal/querier"
	"neo4j-query-exporter/internal/registry"
)

func TestExtract_LabelOrdering(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v", Labels: []string{"a", "b"}}
	rows := []querier.Row{{"a": "x", "b": "y", "other": 1, "v": int64(1)}}

	samples, rowErrs := Extract(spec, rows)
	require.Len(t, samples, 1)
	assert.Empty(t, rowErrs)
	assert.Equal(t, []string{"x", "y"}, samples[0].LabelValues)
	assert.Equal(t, 1.0, samples[0].Value)
}

func TestExtract_MissingLabelIsEmptyString(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v", Labels: []string{"a", "gone"}}
	rows := []querier.Row{{"a": "x", "v": 2.5}}

	samples, rowErrs := Extract(spec, rows)
	require.Len(t, samples, 1)
	assert.Empty(t, rowErrs)
	assert.Equal(t, []string{"x", ""}, samples[0].LabelValues)
}

func TestExtract_MissingValueFieldSkipsRowOnly(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v"}
	rows := []querier.Row{
		{"v": int64(1)},
		{"other": int64(2)},
		{"v": int64(3)},
	}

	samples, rowErrs := Extract(spec, rows)
	require.Len(t, samples, 2)
	assert.Equal(t, 1.0, samples[0].Value)
	assert.Equal(t, 3.0, samples[1].Value)

	require.Len(t, rowErrs, 1)
	assert.Equal(t, 1, rowErrs[0].Index)
	assert.Contains(t, rowErrs[0].Error(), `field "v" missing`)
}

func TestExtract_Coercion(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    float64
		wantErr bool
	}{
		{name: "int64", value: int64(42), want: 42},
		{name: "int", value: 7, want: 7},
		{name: "float64", value: 3.5, want: 3.5},
		{name: "numeric string", value: "42", want: 42},
		{name: "decimal string", value: "0.25", want: 0.25},
		{name: "boolean rejected", value: true, wantErr: true},
		{name: "null rejected", value: nil, wantErr: true},
		{name: "non-numeric string", value: "many", wantErr: true},
		{name: "NaN rejected", value: math.NaN(), wantErr: true},
		{name: "infinity rejected", value: math.Inf(1), wantErr: true},
		{name: "infinite string rejected", value: "+Inf", wantErr: true},
		{name: "slice rejected", value: []any{1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := registry.Spec{Name: "m", ValueField: "v"}
			samples, rowErrs := Extract(spec, []querier.Row{{"v": tt.value}})

			if tt.wantErr {
				assert.Empty(t, samples)
				require.Len(t, rowErrs, 1)
				return
			}
			require.Len(t, samples, 1)
			assert.Empty(t, rowErrs)
			assert.Equal(t, tt.want, samples[0].Value)
		})
	}
}

func TestExtract_PreservesRowOrder(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v", Labels: []string{"k"}}
	rows := []querier.Row{
		{"k": "c", "v": 3},
		{"k": "a", "v": 1},
		{"k": "b", "v": 2},
	}

	samples, _ := Extract(spec, rows)
	require.Len(t, samples, 3)
	assert.Equal(t, "c", samples[0].LabelValues[0])
	assert.Equal(t, "a", samples[1].LabelValues[0])
	assert.Equal(t, "b", samples[2].LabelValues[0])
}

func TestExtract_NonStringLabelValues(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v", Labels: []string{"n"}}
	rows := []querier.Row{{"n": int64(12), "v": 1}}

	samples, _ := Extract(spec, rows)
	require.Len(t, samples, 1)
	assert.Equal(t, "12", samples[0].LabelValues[0])
}

func TestExtract_UnlabeledSpecKeepsFirstRowOnly(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v"}
	rows := []querier.Row{
		{"v": int64(2)},
		{"v": int64(5)},
		{"v": int64(9)},
	}

	samples, rowErrs := Extract(spec, rows)
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)

	require.Len(t, rowErrs, 2)
	assert.Equal(t, 1, rowErrs[0].Index)
	assert.Equal(t, 2, rowErrs[1].Index)
	assert.Contains(t, rowErrs[0].Error(), "duplicate sample")
}

func TestExtract_DuplicateLabelValuesKeepFirst(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v", Labels: []string{"k"}}
	rows := []querier.Row{
		{"k": "a", "v": int64(1)},
		{"k": "b", "v": int64(2)},
		{"k": "a", "v": int64(3)},
	}

	samples, rowErrs := Extract(spec, rows)
	require.Len(t, samples, 2)
	assert.Equal(t, "a", samples[0].LabelValues[0])
	assert.Equal(t, 1.0, samples[0].Value)
	assert.Equal(t, "b", samples[1].LabelValues[0])

	require.Len(t, rowErrs, 1)
	assert.Equal(t, 2, rowErrs[0].Index)
}

func TestExtract_NoRows(t *testing.T) {
	spec := registry.Spec{Name: "m", ValueField: "v"}
	samples, rowErrs := Extract(spec, nil)
	assert.Empty(t, samples)
	assert.Empty(t, rowErrs)
}
