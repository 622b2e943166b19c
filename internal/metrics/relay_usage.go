package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one relay process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sample reads CPU and memory usage of pid.
func Sample(pid int) (Usage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: p.Pid, Timestamp: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u.MemoryRSS = mem.RSS
	u.MemoryMB = float64(mem.RSS) / 1024 / 1024
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}

// PIDSource returns the PID of every attached relay keyed by stream key.
type PIDSource func() map[string]int

// UsageCollector exports per-stream relay resource usage on every scrape.
type UsageCollector struct {
	source PIDSource
	logger *slog.Logger

	cpu *prometheus.Desc
	rss *prometheus.Desc
}

func NewUsageCollector(source PIDSource, logger *slog.Logger) *UsageCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageCollector{
		source: source,
		logger: logger,
		cpu: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "relay", "cpu_percent"),
			"CPU usage percentage of the relay process.",
			[]string{"stream_key"}, nil,
		),
		rss: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "relay", "memory_rss_bytes"),
			"Resident memory of the relay process.",
			[]string{"stream_key"}, nil,
		),
	}
}

func (c *UsageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
}

func (c *UsageCollector) Collect(ch chan<- prometheus.Metric) {
	for key, pid := range c.source() {
		if pid <= 0 {
			continue
		}
		u, err := Sample(pid)
		if err != nil {
			c.logger.Debug("relay usage sample failed", "stream_key", key, "pid", pid, "error", err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, u.CPUPercent, key)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(u.MemoryRSS), key)
	}
}
