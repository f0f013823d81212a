package metrics

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-cache/types"
)

// Noop is the metrics manager used when metrics are disabled.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Start() error    { return nil }
func (n *Noop) Stop() error     { return nil }
func (n *Noop) IsRunning() bool { return false }

func (n *Noop) Counter(_ string, _ map[string]string) types.Counter { return &emptyCounter{} }
func (n *Noop) Gauge(_ string, _ map[string]string) types.Gauge     { return &emptyGauge{} }
func (n *Noop) Histogram(_ string, _ []float64, _ map[string]string) types.Histogram {
	return &emptyHistogram{}
}

func (n *Noop) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (n *Noop) GetMetrics() ([]byte, error) {
	return nil, types.ErrMetricsIsDisabled
}

func (n *Noop) RegisterCacheStats(func() types.CacheStats) error { return nil }

type emptyCounter struct{}

func (c *emptyCounter) Inc()          {}
func (c *emptyCounter) Add(_ float64) {}
func (c *emptyCounter) Get() float64  { return 0 }

type emptyGauge struct{}

func (g *emptyGauge) Set(_ float64) {}
func (g *emptyGauge) Inc()          {}
func (g *emptyGauge) Dec()          {}
func (g *emptyGauge) Add(_ float64) {}
func (g *emptyGauge) Sub(_ float64) {}
func (g *emptyGauge) Get() float64  { return 0 }

type emptyHistogram struct{}

func (h *emptyHistogram) Observe(_ float64)           {}
func (h *emptyHistogram) ObserveDuration(_ time.Time) {}
func (h *emptyHistogram) GetCount() uint64            { return 0 }
func (h *emptyHistogram) GetSum() float64             { return 0 }
