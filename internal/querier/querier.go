package querier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"neo4j-query-exporter/internal/registry"
)

// Row is one result row: field name to driver value. Rows are ephemeral and
// consumed immediately by extraction.
type Row map[string]any

// Runner is the database collaborator: run a query with typed parameters, get
// back rows of named fields. The production implementation lives in
// pkg/neo4j; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) ([]Row, error)
}

// Kind classifies a query failure.
type Kind int

const (
	KindExecution Kind = iota
	KindTimeout
)

func (k Kind) String() string {
	if k == KindTimeout {
		return "timeout"
	}
	return "execution"
}

// QueryError is a database-level failure for one spec. It is isolated by the
// collector and never aborts sibling executions.
type QueryError struct {
	Spec string
	Kind Kind
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query for %q failed (%s): %v", e.Spec, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Executor runs a spec's query through the Runner with a bounded timeout and
// feeds the latency cache on success.
type Executor struct {
	runner  Runner
	timeout time.Duration
	latency *LatencyCache
}

func NewExecutor(runner Runner, timeout time.Duration) *Executor {
	return &Executor{
		runner:  runner,
		timeout: timeout,
		latency: NewLatencyCache(),
	}
}

// Latency exposes the per-query-text duration cache read by latency_of specs.
func (e *Executor) Latency() *LatencyCache { return e.latency }

// Execute runs the spec's query. Zero rows is a valid result. Failures come
// back as *QueryError carrying the spec name; a deadline hit is KindTimeout.
func (e *Executor) Execute(ctx context.Context, spec registry.Spec) ([]Row, error) {
	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.runner.Run(qctx, spec.Query, spec.QueryParams)
	if err != nil {
		kind := KindExecution
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &QueryError{Spec: spec.Name, Kind: kind, Err: err}
	}
	e.latency.Observe(spec.Query, time.Since(start))
	return rows, nil
}

// LatencyCache keeps a running average execution time per query text. Only
// successful runs are observed, so a latency metric reports the cost of
// queries that actually produced rows for the exporter.
type LatencyCache struct {
	mu    sync.RWMutex
	stats map[string]*latencyStat
}

type latencyStat struct {
	count int64
	total time.Duration
}

func NewLatencyCache() *LatencyCache {
	return &LatencyCache{stats: make(map[string]*latencyStat)}
}

func (c *LatencyCache) Observe(query string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[query]
	if !ok {
		s = &latencyStat{}
		c.stats[query] = s
	}
	s.count++
	s.total += d
}

// Average returns the mean duration for the query text, or false if it has
// never completed successfully.
func (c *LatencyCache) Average(query string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stats[query]
	if !ok || s.count == 0 {
		return 0, false
	}
	return s.total / time.Duration(s.count), true
}
