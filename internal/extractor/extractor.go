package extractor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"neo4j-query-exporter/internal/querier"
	"neo4j-query-exporter/internal/registry"
)

// Sample is one labeled gauge reading. LabelValues is aligned index-for-index
// with the spec's label names.
type Sample struct {
	Name        string
	LabelValues []string
	Value       float64
}

// RowError records one row that could not produce a sample. Row-level
// failures are partial: they never abort extraction of sibling rows.
type RowError struct {
	Index int
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

// Extract maps query rows to samples per the spec's value_field and labels.
// Output order matches row order. A row whose value is missing or not a
// finite number is skipped and reported; a missing label field becomes an
// empty-string label value so series cardinality stays predictable.
//
// One sample per label set: a second row with the same label values (for an
// unlabeled spec, any row past the first) is skipped and reported, since the
// exposition format admits only one sample per series and a duplicate would
// poison the whole scrape.
func Extract(spec registry.Spec, rows []querier.Row) ([]Sample, []RowError) {
	samples := make([]Sample, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	var rowErrs []RowError

	for i, row := range rows {
		raw, ok := row[spec.ValueField]
		if !ok {
			rowErrs = append(rowErrs, RowError{Index: i, Err: fmt.Errorf("field %q missing", spec.ValueField)})
			continue
		}
		value, err := toFloat(raw)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: i, Err: fmt.Errorf("field %q: %w", spec.ValueField, err)})
			continue
		}

		labels := make([]string, len(spec.Labels))
		for j, name := range spec.Labels {
			labels[j] = labelString(row[name])
		}

		key := strings.Join(labels, "\xff")
		if _, dup := seen[key]; dup {
			rowErrs = append(rowErrs, RowError{Index: i, Err: fmt.Errorf("duplicate sample for label values %q", labels)})
			continue
		}
		seen[key] = struct{}{}

		samples = append(samples, Sample{
			Name:        spec.Name,
			LabelValues: labels,
			Value:       value,
		})
	}

	return samples, rowErrs
}

// toFloat coerces a driver value to a finite float64. Booleans are rejected
// to avoid silent 0/1 ambiguity with real counts; NaN and infinities are
// rejected because they poison the exposition.
func toFloat(v any) (float64, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint64:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", val)
		}
		f = parsed
	case bool:
		return 0, fmt.Errorf("boolean value is not a valid metric reading")
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value %v is not finite", f)
	}
	return f, nil
}

func labelString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
