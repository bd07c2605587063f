package monitor

import (
	"net/http"
	"time"
)

//go:generate mockery --name=MonitorClient --case=underscore --structname=MockMonitorClient
type MonitorClient interface {
	GetMetricHttpHandler() http.Handler
	GetMetricType() MetricType
	MonitorHttpRequestDuration(duration time.Duration, labels HTTPRequestLabels)
	MonitorDBQueryDuration(duration time.Duration, tag MetricTag, labels DBQueryLabels)
	MonitorCounters(tag MetricTag, labels map[string]string)
	MonitorDuration(duration time.Duration, tag MetricTag, labels map[string]string)
	MonitorHistogram(value float64, tag MetricTag, labels map[string]string)
	RegisterFunctionMetric(metricType FuncMetricType, opts FuncMetricOptions)
}

type FuncMetricType string

const (
	FuncGaugeType   FuncMetricType = "gauge"
	FuncCounterType FuncMetricType = "counter"
)

// FuncMetricOptions describes a metric whose value is pulled from a callback
// at scrape time, e.g. sql.DB pool stats or the pending job count.
type FuncMetricOptions struct {
	Namespace  string
	Subservice string
	Name       string
	Help       string
	Labels     map[string]string
	Function   func() float64
}
