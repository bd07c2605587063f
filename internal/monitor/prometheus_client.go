package monitor

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

type prometheusClient struct {
	httpHandler http.Handler
	registry    *prometheus.Registry
}

func (prometheusClient) GetMetricType() MetricType {
	return MetricTypePrometheus
}

func (p *prometheusClient) GetMetricHttpHandler() http.Handler {
	return p.httpHandler
}

func (p *prometheusClient) MonitorHttpRequestDuration(duration time.Duration, labels HTTPRequestLabels) {
	SummaryVecMetrics[HTTPRequestDurationTag].With(prometheus.Labels{
		"status": labels.Status,
		"route":  labels.Route,
		"method": labels.Method,
	}).Observe(duration.Seconds())
}

func (p *prometheusClient) MonitorDBQueryDuration(duration time.Duration, tag MetricTag, labels DBQueryLabels) {
	summary := SummaryVecMetrics[tag]
	summary.With(prometheus.Labels{
		"query_type": labels.QueryType,
	}).Observe(duration.Seconds())
}

func (p *prometheusClient) MonitorDuration(duration time.Duration, tag MetricTag, labels map[string]string) {
	summary := SummaryVecMetrics[tag]
	summary.With(labels).Observe(duration.Seconds())
}

func (p *prometheusClient) MonitorCounters(tag MetricTag, labels map[string]string) {
	if len(labels) != 0 {
		if counterVecMetric, ok := CounterVecMetrics[tag]; ok {
			counterVecMetric.With(labels).Inc()
		} else {
			log.Errorf("metric not registered in Prometheus CounterVecMetrics: %s", tag)
		}
	} else {
		if counterMetric, ok := CounterMetrics[tag]; ok {
			counterMetric.Inc()
		} else {
			log.Errorf("metric not registered in Prometheus CounterMetrics: %s", tag)
		}
	}
}

func (p *prometheusClient) MonitorHistogram(value float64, tag MetricTag, labels map[string]string) {
	histogram := HistogramVecMetrics[tag]
	histogram.With(labels).Observe(value)
}

// RegisterFunctionMetric registers a gauge or counter whose value is read from
// opts.Function at scrape time. Re-registering the same metric is a no-op so
// reopened pools don't panic the collector.
func (p *prometheusClient) RegisterFunctionMetric(metricType FuncMetricType, opts FuncMetricOptions) {
	var collector prometheus.Collector

	switch metricType {
	case FuncGaugeType:
		collector = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subservice,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.Labels,
		}, opts.Function)
	case FuncCounterType:
		collector = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subservice,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.Labels,
		}, opts.Function)
	default:
		log.Errorf("unknown function metric type %q for metric %s", metricType, opts.Name)
		return
	}

	if err := p.registry.Register(collector); err != nil {
		var alreadyRegisteredErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegisteredErr) {
			return
		}
		log.Errorf("registering function metric %s: %v", opts.Name, err)
	}
}

func NewPrometheusClient() (*prometheusClient, error) {
	// register Prometheus metrics
	metricsRegistry := prometheus.NewRegistry()

	for _, summaryVecMetric := range SummaryVecMetrics {
		metricsRegistry.MustRegister(summaryVecMetric)
	}
	for _, counterMetric := range CounterMetrics {
		metricsRegistry.MustRegister(counterMetric)
	}
	for _, counterVecMetric := range CounterVecMetrics {
		metricsRegistry.MustRegister(counterVecMetric)
	}
	for _, histogramVecMetric := range HistogramVecMetrics {
		metricsRegistry.MustRegister(histogramVecMetric)
	}

	return &prometheusClient{
		httpHandler: promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}),
		registry:    metricsRegistry,
	}, nil
}

// Ensuring that prometheusClient is implementing MonitorClient interface
var _ MonitorClient = (*prometheusClient)(nil)
