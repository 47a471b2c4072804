package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"neo4j-query-exporter/internal/extractor"
	"neo4j-query-exporter/internal/querier"
	"neo4j-query-exporter/internal/registry"
)

// Failure kinds recorded in a Result.
const (
	FailureQuery      = "query"
	FailureTimeout    = "timeout"
	FailureExtraction = "extraction"
)

// Failure is the outcome of a spec that produced no samples this cycle.
type Failure struct {
	Kind string
	Err  error
}

// ExtractionError means a query returned rows but none of them yielded a
// sample, which almost always indicates a mis-declared value_field.
type ExtractionError struct {
	Spec string
	Rows int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("all %d rows of %q failed extraction", e.Rows, e.Spec)
}

// Result is the output of one collection cycle: samples in registry order,
// failed specs, and per-spec counts of rows skipped during extraction. It is
// created fresh each cycle and never mutated after being handed off.
type Result struct {
	Samples   []extractor.Sample
	Failures  map[string]Failure
	RowErrors map[string]int
	Duration  time.Duration
}

// ErrorCount is the total of failed specs and skipped rows, exposed as the
// exporter's own degradation gauge.
func (r *Result) ErrorCount() int {
	n := len(r.Failures)
	for _, c := range r.RowErrors {
		n += c
	}
	return n
}

// Collector drives the registry -> executor -> extractor pipeline. A broken
// query is confined to its own failure entry and never takes down the rest of
// the metric surface.
type Collector struct {
	registry *registry.Registry
	executor *querier.Executor
	limit    int
	log      *logrus.Logger
}

// New builds a Collector running at most limit queries in flight at once.
// limit <= 1 means sequential execution.
func New(reg *registry.Registry, exec *querier.Executor, limit int, log *logrus.Logger) *Collector {
	if limit < 1 {
		limit = 1
	}
	return &Collector{
		registry: reg,
		executor: exec,
		limit:    limit,
		log:      log,
	}
}

type outcome struct {
	samples []extractor.Sample
	rowErrs []extractor.RowError
	failure *Failure
}

// Collect runs one cycle over every spec. It never returns an error: every
// per-spec problem lands in the result instead.
func (c *Collector) Collect(ctx context.Context) *Result {
	start := time.Now()
	specs := c.registry.Specs()
	outcomes := make([]outcome, len(specs))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			outcomes[i] = c.collectSpec(ctx, spec)
			return nil
		})
	}
	g.Wait()

	result := &Result{
		Failures:  make(map[string]Failure),
		RowErrors: make(map[string]int),
	}
	for i, out := range outcomes {
		result.Samples = append(result.Samples, out.samples...)
		if out.failure != nil {
			result.Failures[specs[i].Name] = *out.failure
		}
		if len(out.rowErrs) > 0 {
			result.RowErrors[specs[i].Name] = len(out.rowErrs)
		}
	}
	result.Duration = time.Since(start)

	c.log.WithFields(logrus.Fields{
		"specs":    len(specs),
		"samples":  len(result.Samples),
		"failures": len(result.Failures),
		"duration": result.Duration,
	}).Debug("collection cycle finished")

	return result
}

func (c *Collector) collectSpec(ctx context.Context, spec registry.Spec) outcome {
	if spec.LatencyOf != "" {
		return c.collectLatency(spec)
	}

	rows, err := c.executor.Execute(ctx, spec)
	if err != nil {
		kind := FailureQuery
		var qe *querier.QueryError
		if errors.As(err, &qe) && qe.Kind == querier.KindTimeout {
			kind = FailureTimeout
		}
		c.log.WithField("metric", spec.Name).WithError(err).Warn("query failed")
		return outcome{failure: &Failure{Kind: kind, Err: err}}
	}

	samples, rowErrs := extractor.Extract(spec, rows)
	for _, re := range rowErrs {
		c.log.WithField("metric", spec.Name).WithError(re).Debug("row skipped")
	}
	if len(rows) > 0 && len(samples) == 0 {
		err := &ExtractionError{Spec: spec.Name, Rows: len(rows)}
		c.log.WithField("metric", spec.Name).WithError(err).Warn("extraction failed")
		return outcome{rowErrs: rowErrs, failure: &Failure{Kind: FailureExtraction, Err: err}}
	}
	return outcome{samples: samples, rowErrs: rowErrs}
}

// collectLatency serves a spec from the executor's latency cache. Absent
// until the target query has completed at least once; never an error.
func (c *Collector) collectLatency(spec registry.Spec) outcome {
	avg, ok := c.executor.Latency().Average(spec.LatencyOf)
	if !ok {
		return outcome{}
	}
	return outcome{samples: []extractor.Sample{{
		Name:        spec.Name,
		LabelValues: []string{},
		Value:       avg.Seconds(),
	}}}
}
