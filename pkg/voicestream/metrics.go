package voicestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Alert types emitted by the collector.
const (
	AlertHighLatency    = "high_latency"
	AlertHighCPU        = "high_cpu"
	AlertHighMemory     = "high_memory"
	AlertConnectionLost = "connection_lost"
	AlertDroppedFrames  = "dropped_frames"
)

// PipelineProbe is the application-side input to one metrics sample. The
// collector adds host CPU and memory readings around it.
type PipelineProbe struct {
	LatencyMS      float64
	Connected      bool
	ErrorCount     int64
	TotalRequests  int64
	BufferedFrames int
	DroppedFrames  int64
}

// ProbeFunc supplies the current pipeline numbers. It is called once per
// sampling interval and must not block.
type ProbeFunc func() PipelineProbe

// PromMetrics is the Prometheus export surface. Construction registers every
// series with the given registerer.
type PromMetrics struct {
	LatencyMS      prometheus.Gauge
	CPUPercent     prometheus.Gauge
	MemoryPercent  prometheus.Gauge
	Connected      prometheus.Gauge
	BufferedFrames prometheus.Gauge
	DroppedFrames  prometheus.Gauge
	ErrorCount     prometheus.Gauge
	SamplesTotal   prometheus.Counter
	AlertsTotal    *prometheus.CounterVec
}

// NewPromMetrics registers the pipeline metrics. Pass a fresh registry in
// tests to avoid duplicate registration.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		LatencyMS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_latency_ms",
			Help: "Average transcription processing latency in milliseconds",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_cpu_percent",
			Help: "Host CPU utilization percentage",
		}),
		MemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_memory_percent",
			Help: "Host memory utilization percentage",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_connected",
			Help: "Whether the transcription session is streaming (1) or not (0)",
		}),
		BufferedFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_buffered_frames",
			Help: "Audio frames currently waiting in the frame buffer",
		}),
		DroppedFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_dropped_frames_total",
			Help: "Audio frames evicted from the frame buffer on overflow",
		}),
		ErrorCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_error_count",
			Help: "Cumulative pipeline error count",
		}),
		SamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_metric_samples_total",
			Help: "Total number of metric samples collected",
		}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicestream_alerts_total",
			Help: "Performance alerts raised, by type and severity",
		}, []string{"type", "severity"}),
	}
}

func (m *PromMetrics) observe(snapshot PerformanceSnapshot) {
	m.LatencyMS.Set(snapshot.LatencyMS)
	m.CPUPercent.Set(snapshot.CPUPercent)
	m.MemoryPercent.Set(snapshot.MemoryPercent)
	if snapshot.Connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
	m.BufferedFrames.Set(float64(snapshot.BufferedFrames))
	m.DroppedFrames.Set(float64(snapshot.DroppedFrames))
	m.ErrorCount.Set(float64(snapshot.ErrorCount))
	m.SamplesTotal.Inc()
}

// MetricsCollector samples pipeline and host metrics on a fixed interval,
// keeps a bounded history, raises rate-limited threshold alerts and mirrors
// everything to Prometheus.
type MetricsCollector struct {
	cfg   MetricsConfig
	probe ProbeFunc
	prom  *PromMetrics
	log   *Logger

	startedAt time.Time

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	history        []PerformanceSnapshot
	alerts         []AlertRecord
	lastAlertTime  map[string]time.Time
	alertHandlers  []func(AlertRecord)
	sampleHandlers []func(PerformanceSnapshot)
}

// NewMetricsCollector builds a collector. prom may be nil when Prometheus
// export is not wanted.
func NewMetricsCollector(cfg MetricsConfig, probe ProbeFunc, prom *PromMetrics, log *Logger) *MetricsCollector {
	return &MetricsCollector{
		cfg:           cfg,
		probe:         probe,
		prom:          prom,
		log:           log.WithComponent("metrics"),
		startedAt:     time.Now(),
		lastAlertTime: make(map[string]time.Time),
	}
}

// OnAlert registers a handler for raised alerts.
func (c *MetricsCollector) OnAlert(handler func(AlertRecord)) {
	c.mu.Lock()
	c.alertHandlers = append(c.alertHandlers, handler)
	c.mu.Unlock()
}

// OnSample registers a handler invoked with every collected snapshot.
func (c *MetricsCollector) OnSample(handler func(PerformanceSnapshot)) {
	c.mu.Lock()
	c.sampleHandlers = append(c.sampleHandlers, handler)
	c.mu.Unlock()
}

// Start launches the sampling loop. A second Start without Stop is a no-op.
func (c *MetricsCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.log.Warn("Metrics collection already active")
		return
	}
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
	c.log.Info("Metrics collection started")
}

// Stop halts the sampling loop and waits briefly for it to exit.
func (c *MetricsCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.log.Warn("Metrics loop did not stop in time")
	}
	c.log.Info("Metrics collection stopped")
}

func (c *MetricsCollector) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample()
		}
	}
}

// Sample collects one snapshot immediately. The loop calls this on every
// tick; tests call it directly.
func (c *MetricsCollector) Sample() PerformanceSnapshot {
	snapshot := c.collect()

	c.mu.Lock()
	c.history = append(c.history, snapshot)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	sampleHandlers := make([]func(PerformanceSnapshot), len(c.sampleHandlers))
	copy(sampleHandlers, c.sampleHandlers)
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.observe(snapshot)
	}
	c.checkThresholds(snapshot)

	for _, h := range sampleHandlers {
		h(snapshot)
	}
	return snapshot
}

func (c *MetricsCollector) collect() PerformanceSnapshot {
	snapshot := PerformanceSnapshot{Timestamp: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	} else if err != nil {
		c.log.WithError(err).Debug("CPU sampling failed")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snapshot.MemoryMB = float64(vm.Used) / (1024 * 1024)
		snapshot.MemoryPercent = vm.UsedPercent
	} else {
		c.log.WithError(err).Debug("Memory sampling failed")
	}

	if c.probe != nil {
		probe := c.probe()
		snapshot.LatencyMS = probe.LatencyMS
		snapshot.Connected = probe.Connected
		snapshot.ErrorCount = probe.ErrorCount
		snapshot.BufferedFrames = probe.BufferedFrames
		snapshot.DroppedFrames = probe.DroppedFrames

		uptime := time.Since(c.startedAt).Seconds()
		if uptime < 1 {
			uptime = 1
		}
		snapshot.RequestsPerSecond = float64(probe.TotalRequests) / uptime
	}
	return snapshot
}

func (c *MetricsCollector) checkThresholds(s PerformanceSnapshot) {
	if s.LatencyMS > c.cfg.MaxLatencyMS {
		c.addAlert(AlertHighLatency, "warning",
			fmt.Sprintf("High latency detected: %.0fms (target: %.0fms)", s.LatencyMS, c.cfg.MaxLatencyMS))
	}
	if s.CPUPercent > c.cfg.MaxCPUPercent {
		c.addAlert(AlertHighCPU, "warning",
			fmt.Sprintf("High CPU usage: %.1f%% (threshold: %.1f%%)", s.CPUPercent, c.cfg.MaxCPUPercent))
	}
	if s.MemoryPercent > c.cfg.MaxMemoryPercent {
		c.addAlert(AlertHighMemory, "warning",
			fmt.Sprintf("High memory usage: %.1f%% (threshold: %.1f%%)", s.MemoryPercent, c.cfg.MaxMemoryPercent))
	}
	if !s.Connected {
		c.addAlert(AlertConnectionLost, "error", "Connection to transcription endpoint lost")
	}
	if s.DroppedFrames > c.cfg.DroppedFrameAlert {
		c.addAlert(AlertDroppedFrames, "warning",
			fmt.Sprintf("Audio frames being dropped: %d", s.DroppedFrames))
	}
}

// addAlert records an alert unless the same type fired within the cooldown.
func (c *MetricsCollector) addAlert(alertType, severity, message string) {
	now := time.Now()

	c.mu.Lock()
	if last, ok := c.lastAlertTime[alertType]; ok && now.Sub(last) < c.cfg.AlertCooldown() {
		c.mu.Unlock()
		return
	}
	c.lastAlertTime[alertType] = now

	alert := AlertRecord{
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: now,
	}
	c.alerts = append(c.alerts, alert)
	if len(c.alerts) > c.cfg.AlertRetention {
		c.alerts = c.alerts[len(c.alerts)-c.cfg.AlertRetention:]
	}
	handlers := make([]func(AlertRecord), len(c.alertHandlers))
	copy(handlers, c.alertHandlers)
	c.mu.Unlock()

	c.log.WithFields(map[string]interface{}{
		"alert_type": alertType,
		"severity":   severity,
	}).Warn(message)

	if c.prom != nil {
		c.prom.AlertsTotal.WithLabelValues(alertType, severity).Inc()
	}
	for _, h := range handlers {
		h(alert)
	}
}

// Current returns the most recent snapshot, if any.
func (c *MetricsCollector) Current() (PerformanceSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return PerformanceSnapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns a copy of the retained snapshots, oldest first.
func (c *MetricsCollector) History() []PerformanceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PerformanceSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// Alerts returns a copy of the retained alerts, oldest first.
func (c *MetricsCollector) Alerts() []AlertRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AlertRecord, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Summary aggregates the recent history for display: averages over the last
// minute of samples alongside the current values.
func (c *MetricsCollector) Summary() map[string]interface{} {
	c.mu.Lock()
	history := make([]PerformanceSnapshot, len(c.history))
	copy(history, c.history)
	alertCount := len(c.alerts)
	c.mu.Unlock()

	if len(history) == 0 {
		return map[string]interface{}{}
	}

	window := history
	if len(window) > 60 {
		window = window[len(window)-60:]
	}
	var latency, cpuSum, memSum float64
	for _, s := range window {
		latency += s.LatencyMS
		cpuSum += s.CPUPercent
		memSum += s.MemoryPercent
	}
	n := float64(len(window))
	current := history[len(history)-1]

	return map[string]interface{}{
		"uptime_seconds":     time.Since(c.startedAt).Seconds(),
		"samples":            len(history),
		"alert_count":        alertCount,
		"avg_latency_ms":     latency / n,
		"avg_cpu_percent":    cpuSum / n,
		"avg_memory_percent": memSum / n,
		"current_latency_ms": current.LatencyMS,
		"connected":          current.Connected,
		"dropped_frames":     current.DroppedFrames,
	}
}
