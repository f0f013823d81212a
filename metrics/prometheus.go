package metrics

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type metricKind string

const (
	kindCounter   metricKind = "counter"
	kindGauge     metricKind = "gauge"
	kindHistogram metricKind = "histogram"
)

var helpText = map[string]string{
	"cache_operations_total":           "Cache operations by operation and result.",
	"cache_operation_duration_seconds": "Latency of cache operations.",
	"cache_hits_total":                 "Cache hits by serving tier.",
	"cache_misses_total":               "Cache misses.",
	"cache_evictions_total":            "Entries evicted by tier.",
	"cache_background_refreshes_total": "Completed background refreshes by result.",
	"http_requests_total":              "Admin API requests by method and status.",
	"http_request_duration_seconds":    "Admin API request latency.",
	"cron_job_executions_total":        "Scheduled job runs by job and result.",
	"cron_job_duration_seconds":        "Scheduled job run time.",
	"cron_scheduler_running":           "1 while the job scheduler runs.",
}

// family is one registered vector. Its kind and label names are fixed by the
// first caller.
type family struct {
	kind   metricKind
	labels []string
	vec    prometheus.Collector
}

// PrometheusMetrics keeps a private registry. Metrics are created on first
// use; a later request for the same name with another kind or label set is
// logged and served by a discarding metric.
type PrometheusMetrics struct {
	logger      types.Logger
	namespace   string
	subsystem   string
	constLabels prometheus.Labels
	registry    *prometheus.Registry
	handler     fasthttp.RequestHandler
	mu          sync.Mutex
	families    map[string]*family
	running     atomic.Bool
}

func NewPrometheusMetrics(_ context.Context, logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	if config == nil {
		config = &types.MetricsConfig{EnableGoMetrics: true}
	}

	p := &PrometheusMetrics{
		logger:      logger,
		namespace:   config.Namespace,
		subsystem:   config.Subsystem,
		constLabels: prometheus.Labels{},
		registry:    prometheus.NewRegistry(),
		families:    make(map[string]*family),
	}

	if p.namespace == "" {
		p.namespace = "sai_cache"
	}
	for k, v := range config.Labels {
		p.constLabels[k] = v
	}

	if config.EnableGoMetrics {
		if err := p.registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, types.WrapError(err, "failed to register go collector")
		}
		if err := p.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, types.WrapError(err, "failed to register process collector")
		}
	}

	p.handler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		ErrorLog: promLogger{logger},
	}))

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", p.namespace),
		zap.Bool("go_metrics", config.EnableGoMetrics))

	return p, nil
}

func (p *PrometheusMetrics) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return p.running.Load()
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	vec, ok := p.family(name, kindCounter, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	})
	if !ok {
		return &emptyCounter{}
	}

	counter, err := vec.(*prometheus.CounterVec).GetMetricWith(labels)
	if err != nil {
		p.logger.Warn("Invalid counter labels", zap.String("name", name), zap.Error(err))
		return &emptyCounter{}
	}

	return &PrometheusCounter{logger: p.logger, counter: counter}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	vec, ok := p.family(name, kindGauge, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	})
	if !ok {
		return &emptyGauge{}
	}

	gauge, err := vec.(*prometheus.GaugeVec).GetMetricWith(labels)
	if err != nil {
		p.logger.Warn("Invalid gauge labels", zap.String("name", name), zap.Error(err))
		return &emptyGauge{}
	}

	return &PrometheusGauge{logger: p.logger, gauge: gauge}
}

// Histogram buckets are fixed by the first call for name.
func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	vec, ok := p.family(name, kindHistogram, labels, func(opts prometheus.Opts, names []string) prometheus.Collector {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, names)
	})
	if !ok {
		return &emptyHistogram{}
	}

	observer, err := vec.(*prometheus.HistogramVec).GetMetricWith(labels)
	if err != nil {
		p.logger.Warn("Invalid histogram labels", zap.String("name", name), zap.Error(err))
		return &emptyHistogram{}
	}

	return &PrometheusHistogram{observer: observer}
}

// RegisterCacheStats adds a collector that calls source on every scrape and
// exports tier sizes and the hit rate as gauges.
func (p *PrometheusMetrics) RegisterCacheStats(source func() types.CacheStats) error {
	collector := newCacheStatsCollector(p.namespace, p.subsystem, p.constLabels, source)
	if err := p.registry.Register(collector); err != nil {
		return types.Errorf(types.ErrMetricConflict, "cache stats: %v", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus text exposition format.
func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return p.handler
}

// GetMetrics returns every gathered sample as a JSON list of types.MetricValue.
// Histograms report their sample sum.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	now := time.Now()
	values := make([]types.MetricValue, 0, len(families))

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			values = append(values, types.MetricValue{
				Name:      mf.GetName(),
				Type:      mf.GetType().String(),
				Value:     sampleValue(m),
				Labels:    labels,
				Timestamp: now,
				Help:      mf.GetHelp(),
			})
		}
	}

	return utils.Marshal(values)
}

func (p *PrometheusMetrics) family(name string, kind metricKind, labels map[string]string, build func(prometheus.Opts, []string) prometheus.Collector) (prometheus.Collector, bool) {
	names := make([]string, 0, len(labels))
	for label := range labels {
		names = append(names, label)
	}
	sort.Strings(names)

	p.mu.Lock()
	defer p.mu.Unlock()

	if f, exists := p.families[name]; exists {
		if f.kind != kind || !slices.Equal(f.labels, names) {
			p.logger.Warn("Metric requested with a different shape",
				zap.String("name", name),
				zap.String("kind", string(kind)),
				zap.Strings("labels", names),
				zap.Strings("registered_labels", f.labels))
			return nil, false
		}
		return f.vec, true
	}

	help, ok := helpText[name]
	if !ok {
		help = "sai-cache metric " + name
	}

	vec := build(prometheus.Opts{
		Namespace:   p.namespace,
		Subsystem:   p.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.constLabels,
	}, names)

	if err := p.registry.Register(vec); err != nil {
		p.logger.Warn("Failed to register metric", zap.String("name", name), zap.Error(err))
		return nil, false
	}

	p.families[name] = &family{kind: kind, labels: names, vec: vec}

	return vec, true
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return m.Histogram.GetSampleSum()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	default:
		return 0
	}
}

type promLogger struct {
	logger types.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error("Prometheus handler error", zap.Any("details", v))
}

type PrometheusCounter struct {
	logger  types.Logger
	counter prometheus.Counter
}

func (c *PrometheusCounter) Inc()              { c.counter.Inc() }
func (c *PrometheusCounter) Add(value float64) { c.counter.Add(value) }

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  prometheus.Gauge
}

func (g *PrometheusGauge) Set(value float64) { g.gauge.Set(value) }
func (g *PrometheusGauge) Inc()              { g.gauge.Inc() }
func (g *PrometheusGauge) Dec()              { g.gauge.Dec() }
func (g *PrometheusGauge) Add(value float64) { g.gauge.Add(value) }
func (g *PrometheusGauge) Sub(value float64) { g.gauge.Sub(value) }

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	observer prometheus.Observer
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return h.snapshot().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return h.snapshot().GetSampleSum()
}

func (h *PrometheusHistogram) snapshot() *dto.Histogram {
	metric, ok := h.observer.(prometheus.Metric)
	if !ok {
		return nil
	}

	out := &dto.Metric{}
	if err := metric.Write(out); err != nil {
		return nil
	}
	return out.GetHistogram()
}
