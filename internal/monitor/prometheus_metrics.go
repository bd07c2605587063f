package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

func PrometheusMetrics() map[MetricTag]prometheus.Collector {
	metrics := make(map[MetricTag]prometheus.Collector)

	for tag, summaryVec := range SummaryVecMetrics {
		metrics[tag] = summaryVec
	}

	for tag, counter := range CounterMetrics {
		metrics[tag] = counter
	}

	for tag, histogramVec := range HistogramVecMetrics {
		metrics[tag] = histogramVec
	}

	for tag, counterVec := range CounterVecMetrics {
		metrics[tag] = counterVec
	}

	return metrics
}

var SummaryVecMetrics = map[MetricTag]*prometheus.SummaryVec{
	HTTPRequestDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: string(HTTPSubservice), Name: string(HTTPRequestDurationTag),
		Help: "HTTP requests durations, sliding window = 10m",
	},
		[]string{"status", "route", "method"},
	),
	SuccessfulQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: string(DBSubservice), Name: string(SuccessfulQueryDurationTag),
		Help: "Successful DB query durations",
	},
		[]string{"query_type"},
	),
	FailureQueryDurationTag: prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: DefaultNamespace, Subsystem: string(DBSubservice), Name: string(FailureQueryDurationTag),
		Help: "Failure DB query durations",
	},
		[]string{"query_type"},
	),
}

var CounterMetrics = map[MetricTag]prometheus.Counter{
	WalletCreditConflictsCounterTag: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(WalletCreditConflictsCounterTag),
		Help: "A counter of wallet credits that lost an optimistic-lock race and were retried",
	}),
	PolicyBatchesRunCounterTag: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(PolicyBatchesRunCounterTag),
		Help: "A counter of policy issuance batch runs",
	}),
	PolicyBatchFailuresCounterTag: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(PolicyBatchFailuresCounterTag),
		Help: "A counter of policy issuance batch runs that finished with failed items",
	}),
}

var HistogramVecMetrics = map[MetricTag]*prometheus.HistogramVec{
	MobileMoneyAPIRequestDurationTag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: DefaultNamespace, Subsystem: string(MobileMoneySubservice), Name: string(MobileMoneyAPIRequestDurationTag),
		Help: "A histogram of the mobile money API request durations",
	},
		MobileMoneyLabelNames,
	),
}

var CounterVecMetrics = map[MetricTag]*prometheus.CounterVec{
	PaymentsInitiatedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(PaymentsInitiatedCounterTag),
		Help: "A counter of payment requests pushed to the mobile money gateway",
	},
		PaymentLabelNames,
	),
	PaymentsSettledCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(PaymentsSettledCounterTag),
		Help: "A counter of payment requests that reached a terminal status",
	},
		PaymentLabelNames,
	),
	ReconciliationAttemptsCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(ReconciliationAttemptsCounterTag),
		Help: "A counter of reconciliation polls against the mobile money gateway",
	},
		[]string{"outcome"},
	),
	PoliciesActivatedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(PoliciesActivatedCounterTag),
		Help: "A counter of policies activated",
	},
		PolicyLabelNames,
	),
	LedgerEntriesPostedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(BusinessSubservice), Name: string(LedgerEntriesPostedCounterTag),
		Help: "A counter of journal entries posted to the general ledger",
	},
		[]string{"transaction_type"},
	),
	NotificationsSentCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(NotificationsSubservice), Name: string(NotificationsSentCounterTag),
		Help: "A counter of notifications accepted by a provider",
	},
		NotificationLabelNames,
	),
	NotificationsFailedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(NotificationsSubservice), Name: string(NotificationsFailedCounterTag),
		Help: "A counter of notifications that exhausted every provider",
	},
		NotificationLabelNames,
	),
	NotificationsRetriedCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(NotificationsSubservice), Name: string(NotificationsRetriedCounterTag),
		Help: "A counter of notification send retries against the same provider",
	},
		NotificationLabelNames,
	),
	NotificationsFailedOverCounterTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(NotificationsSubservice), Name: string(NotificationsFailedOverCounterTag),
		Help: "A counter of notifications that failed over to a lower-priority provider",
	},
		NotificationLabelNames,
	),
	MobileMoneyAPIRequestsTotalTag: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: DefaultNamespace, Subsystem: string(MobileMoneySubservice), Name: string(MobileMoneyAPIRequestsTotalTag),
		Help: "A counter of the mobile money API requests",
	},
		MobileMoneyLabelNames,
	),
}
