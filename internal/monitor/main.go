package monitor

import (
	"fmt"
	"strings"
)

const DefaultNamespace = "bodasure"

type MetricSubservice string

const (
	HTTPSubservice          MetricSubservice = "http"
	DBSubservice            MetricSubservice = "db"
	BusinessSubservice      MetricSubservice = "business"
	NotificationsSubservice MetricSubservice = "notifications"
	MobileMoneySubservice   MetricSubservice = "mobile_money"
	JobQueueSubservice      MetricSubservice = "jobqueue"
)

type MetricType string

const (
	MetricTypePrometheus MetricType = "PROMETHEUS"
)

func ParseMetricType(metricTypeStr string) (MetricType, error) {
	metricTypeStrUpper := strings.ToUpper(metricTypeStr)
	mType := MetricType(metricTypeStrUpper)

	switch mType {
	case MetricTypePrometheus:
		return mType, nil
	default:
		return "", fmt.Errorf("invalid metric type %q", metricTypeStrUpper)
	}
}

type MetricOptions struct {
	MetricType  MetricType
	Environment string
}

func GetClient(opts MetricOptions) (MonitorClient, error) {
	switch opts.MetricType {
	case MetricTypePrometheus:
		return NewPrometheusClient()
	default:
		return nil, fmt.Errorf("unknown metric type: %q", opts.MetricType)
	}
}
