// Package monitoring 收集服务运行指标并以Prometheus格式导出
package monitoring

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Namespace 所有指标名的前缀
const Namespace = "ecoharvest"

// MetricsCollector 指标收集器。指标在首次使用时按名称注册，
// 同名指标之后必须使用相同的标签键
type MetricsCollector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	help       map[string]string
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器，附带Go运行时与进程指标
func NewMetricsCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsCollector{
		registry:   registry,
		help:       make(map[string]string),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		startTime:  time.Now(),
	}
}

// Describe 设置指标说明，需在首次使用前调用
func (mc *MetricsCollector) Describe(name, help string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.help[name] = help
}

func (mc *MetricsCollector) helpFor(name string) string {
	if help, ok := mc.help[name]; ok {
		return help
	}
	return "Metric " + name
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (mc *MetricsCollector) counter(name string, labels map[string]string) *prometheus.CounterVec {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	vec, ok := mc.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      mc.helpFor(name),
		}, labelNames(labels))
		mc.registry.MustRegister(vec)
		mc.counters[name] = vec
	}
	return vec
}

func (mc *MetricsCollector) gauge(name string, labels map[string]string) *prometheus.GaugeVec {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	vec, ok := mc.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      mc.helpFor(name),
		}, labelNames(labels))
		mc.registry.MustRegister(vec)
		mc.gauges[name] = vec
	}
	return vec
}

func (mc *MetricsCollector) histogram(name string) *prometheus.HistogramVec {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	vec, ok := mc.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      mc.helpFor(name),
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, nil)
		mc.registry.MustRegister(vec)
		mc.histograms[name] = vec
	}
	return vec
}

// IncrCounter 增加计数器；标签键与首次使用不一致时忽略
func (mc *MetricsCollector) IncrCounter(name string, labels map[string]string) {
	if c, err := mc.counter(name, labels).GetMetricWith(labels); err == nil {
		c.Inc()
	}
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	if g, err := mc.gauge(name, labels).GetMetricWith(labels); err == nil {
		g.Set(value)
	}
}

// ObserveDuration 记录一次耗时（秒）
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration) {
	mc.histogram(name).WithLabelValues().Observe(d.Seconds())
}

// Value 读取计数器或仪表的当前值；直方图返回样本数
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	families, err := mc.registry.Gather()
	if err != nil {
		return 0, false
	}
	full := Namespace + "_" + name
	for _, family := range families {
		if family.GetName() != full {
			continue
		}
		for _, m := range family.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.GetCounter().GetValue(), true
			case m.Gauge != nil:
				return m.GetGauge().GetValue(), true
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func labelsMatch(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(pairs) != len(labels) {
		return false
	}
	for _, p := range pairs {
		if labels[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

// Handler 导出Prometheus文本格式
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}
