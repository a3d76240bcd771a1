package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/bytebufferpool"
)

// Metrics 收集请求指标
// 每个 Server 使用独立的 Registry，测试中可以并存多个实例
type Metrics struct {
	registry        *prometheus.Registry
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics 创建指标；chainLength 在每次采集时读取
func NewMetrics(chainLength func() int) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certchain",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certchain",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	chainGauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "certchain",
			Subsystem: "chain",
			Name:      "blocks",
			Help:      "Number of blocks in the chain, genesis included",
		},
		func() float64 { return float64(chainLength()) },
	)

	m.registry.MustRegister(m.requestCounter, m.requestDuration, chainGauge)
	return m
}

// Observe 记录一次请求
func (m *Metrics) Observe(method, route string, status int, duration time.Duration) {
	m.requestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// withMetrics 以路由模式而不是原始路径作为标签，避免 id 撑爆基数
func (m *Metrics) withMetrics(route string, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		status := 0
		if err != nil {
			status = errorResponse(err).Status
		} else if resp != nil {
			status = resp.Status
		}
		m.Observe(req.Method, route, status, time.Since(start))
		return resp, err
	}
}

// handle 以 Prometheus 文本格式输出所有指标
func (m *Metrics) handle(ctx context.Context, req *Request) (*Response, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	enc := expfmt.NewEncoder(buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}

	// buf 会被放回池中，响应体需要自己的副本
	body := append([]byte(nil), buf.B...)
	return rawResponse(http.StatusOK, string(format), body), nil
}
