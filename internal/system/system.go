package system

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Collector exposes resource usage of the exporter process itself, so
// operators can spot a runaway query set from the exporter side too.
type Collector struct {
	proc *process.Process
	log  *logrus.Logger

	cpuDesc       *prometheus.Desc
	rssDesc       *prometheus.Desc
	fdDesc        *prometheus.Desc
	goroutineDesc *prometheus.Desc
}

func NewCollector(log *logrus.Logger) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{
		proc: proc,
		log:  log,
		cpuDesc: prometheus.NewDesc(
			"neo4j_exporter_process_cpu_percent",
			"CPU usage of the exporter process",
			nil, nil,
		),
		rssDesc: prometheus.NewDesc(
			"neo4j_exporter_process_resident_memory_bytes",
			"Resident memory of the exporter process",
			nil, nil,
		),
		fdDesc: prometheus.NewDesc(
			"neo4j_exporter_process_open_fds",
			"Open file descriptors held by the exporter process",
			nil, nil,
		),
		goroutineDesc: prometheus.NewDesc(
			"neo4j_exporter_goroutines",
			"Number of goroutines in the exporter process",
			nil, nil,
		),
	}, nil
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuDesc
	ch <- c.rssDesc
	ch <- c.fdDesc
	ch <- c.goroutineDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if cpu, err := c.proc.CPUPercent(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpuDesc, prometheus.GaugeValue, cpu)
	} else {
		c.log.WithError(err).Debug("cpu stats unavailable")
	}

	if mem, err := c.proc.MemoryInfo(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rssDesc, prometheus.GaugeValue, float64(mem.RSS))
	} else {
		c.log.WithError(err).Debug("memory stats unavailable")
	}

	if fds, err := c.proc.NumFDs(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.fdDesc, prometheus.GaugeValue, float64(fds))
	}

	ch <- prometheus.MustNewConstMetric(c.goroutineDesc, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
}
