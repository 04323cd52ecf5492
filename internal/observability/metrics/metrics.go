package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures metric labels.
type Config struct {
	ServiceName string
	Environment string
}

const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"

	ImageSave   = "save"
	ImageDelete = "delete"

	ImageSaved    = "saved"
	ImageRejected = "rejected"
	ImageFailed   = "failed"
	ImageRemoved  = "removed"
	ImageMissing  = "missing"
)

// NewRegistry returns the registry for catalog instruments. Runtime, process
// and DB pool collectors live on the default registry; Gatherer merges both.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Gatherer merges the catalog registry with the default one.
func Gatherer(registry *prometheus.Registry) prometheus.Gatherer {
	return prometheus.Gatherers{registry, prometheus.DefaultGatherer}
}

// Metrics exposes catalog-level instruments.
type Metrics struct {
	products   *prometheus.CounterVec
	images     *prometheus.CounterVec
	imageBytes prometheus.Counter
}

func New(cfg Config, registry *prometheus.Registry) (*Metrics, error) {
	constLabels := constLabels(cfg)

	m := &Metrics{
		products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "catalog_products_total",
			Help:        "Product writes by operation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "catalog_images_total",
			Help:        "Image store operations by result.",
			ConstLabels: constLabels,
		}, []string{"operation", "result"}),
		imageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "catalog_image_bytes_total",
			Help:        "Bytes written to the image store.",
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{m.products, m.images, m.imageBytes} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordProduct counts a successful product write.
func (m *Metrics) RecordProduct(operation string) {
	if m == nil {
		return
	}
	m.products.WithLabelValues(operation).Inc()
}

// RecordImage counts an image store outcome.
func (m *Metrics) RecordImage(operation, result string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordImageBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.imageBytes.Add(float64(n))
}

// HTTPMetrics holds request instruments for the gin engine.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(cfg Config, registry *prometheus.Registry) (*HTTPMetrics, error) {
	constLabels := constLabels(cfg)
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "catalog_http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "catalog_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}
	if err := registry.Register(m.requests); err != nil {
		return nil, err
	}
	if err := registry.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// GinMiddleware records request counts and latency keyed by route template.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "catalog"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}
