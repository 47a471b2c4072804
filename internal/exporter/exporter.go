package exporter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"neo4j-query-exporter/internal/collector"
	"neo4j-query-exporter/internal/registry"
)

// Pinger reports whether the database is reachable. Implemented by
// pkg/neo4j; nil disables the connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	connDesc = prometheus.NewDesc(
		"neo4j_exporter_connection_status",
		"Connection status to Neo4j (1 = OK, 0 = Error)",
		nil, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"neo4j_exporter_metric_errors",
		"Number of metric processing errors in the last scrape",
		nil, nil,
	)
	durationDesc = prometheus.NewDesc(
		"neo4j_exporter_scrape_duration_seconds",
		"Time spent running queries and extracting samples",
		nil, nil,
	)
	lastScrapeDesc = prometheus.NewDesc(
		"neo4j_exporter_last_scrape_timestamp_seconds",
		"Unix time of the last completed collection cycle",
		nil, nil,
	)
)

// Exporter adapts collection results to the Prometheus exposition model. It
// implements prometheus.Collector; gauges are rebuilt as const metrics on
// every scrape, so a metric whose query returned no rows is simply absent.
//
// Overlapping scrapes are single-flight: concurrent callers share one
// in-flight collection cycle instead of doubling load on the database.
type Exporter struct {
	collector *collector.Collector
	descs     map[string]*prometheus.Desc
	pinger    Pinger
	log       *logrus.Logger
	group     singleflight.Group
}

func New(coll *collector.Collector, reg *registry.Registry, pinger Pinger, log *logrus.Logger) *Exporter {
	descs := make(map[string]*prometheus.Desc, reg.Len())
	for _, spec := range reg.Specs() {
		descs[spec.Name] = prometheus.NewDesc(spec.Name, spec.Help, spec.Labels, nil)
	}
	return &Exporter{
		collector: coll,
		descs:     descs,
		pinger:    pinger,
		log:       log,
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range e.descs {
		ch <- desc
	}
	ch <- connDesc
	ch <- errorsDesc
	ch <- durationDesc
	ch <- lastScrapeDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	sc := e.scrape(context.Background())

	if sc.result != nil {
		for _, s := range sc.result.Samples {
			desc, ok := e.descs[s.Name]
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Value, s.LabelValues...)
		}
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.GaugeValue, float64(sc.result.ErrorCount()))
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.GaugeValue, sc.result.Duration.Seconds())
		ch <- prometheus.MustNewConstMetric(lastScrapeDesc, prometheus.GaugeValue, float64(sc.at.Unix()))
	} else {
		// Database unreachable: no query ran, every definition is an error.
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.GaugeValue, float64(len(e.descs)))
	}
	ch <- prometheus.MustNewConstMetric(connDesc, prometheus.GaugeValue, sc.up)
}

// Refresh runs (or joins) a collection cycle outside of a scrape. Used by the
// optional timer loop to keep the latency cache and health status warm.
func (e *Exporter) Refresh(ctx context.Context) {
	e.scrape(ctx)
}

type scrapeState struct {
	result *collector.Result
	up     float64
	at     time.Time
}

func (e *Exporter) scrape(ctx context.Context) *scrapeState {
	v, _, shared := e.group.Do("scrape", func() (any, error) {
		return e.doScrape(ctx), nil
	})
	if shared {
		e.log.Debug("scrape joined in-flight collection cycle")
	}
	return v.(*scrapeState)
}

func (e *Exporter) doScrape(ctx context.Context) *scrapeState {
	if e.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := e.pinger.Ping(pingCtx)
		cancel()
		if err != nil {
			e.log.WithError(err).Warn("database unreachable, skipping collection")
			return &scrapeState{up: 0, at: time.Now()}
		}
	}
	return &scrapeState{
		result: e.collector.Collect(ctx),
		up:     1,
		at:     time.Now(),
	}
}
