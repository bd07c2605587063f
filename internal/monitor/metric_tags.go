package monitor

type MetricTag string

const (
	SuccessfulQueryDurationTag MetricTag = "successful_queries_duration"
	FailureQueryDurationTag    MetricTag = "failure_queries_duration"
	HTTPRequestDurationTag     MetricTag = "requests_duration_seconds"
	// Payments:
	PaymentsInitiatedCounterTag      MetricTag = "payments_initiated_counter"
	PaymentsSettledCounterTag        MetricTag = "payments_settled_counter"
	WalletCreditConflictsCounterTag  MetricTag = "wallet_credit_conflicts_counter"
	ReconciliationAttemptsCounterTag MetricTag = "reconciliation_attempts_counter"
	// Policies:
	PolicyBatchesRunCounterTag    MetricTag = "policy_batches_run_counter"
	PoliciesActivatedCounterTag   MetricTag = "policies_activated_counter"
	PolicyBatchFailuresCounterTag MetricTag = "policy_batch_failures_counter"
	// Notifications:
	NotificationsSentCounterTag       MetricTag = "notifications_sent_counter"
	NotificationsFailedCounterTag     MetricTag = "notifications_failed_counter"
	NotificationsRetriedCounterTag    MetricTag = "notifications_retried_counter"
	NotificationsFailedOverCounterTag MetricTag = "notifications_failed_over_counter"
	// Ledger:
	LedgerEntriesPostedCounterTag MetricTag = "ledger_entries_posted_counter"
	// Mobile money API requests:
	MobileMoneyAPIRequestDurationTag MetricTag = "mobile_money_api_request_duration_seconds"
	MobileMoneyAPIRequestsTotalTag   MetricTag = "mobile_money_api_requests_total"
	// DB connection pool, registered as function metrics when the pool is opened:
	DBOpenConnectionsTag          MetricTag = "db_open_connections"
	DBInUseConnectionsTag         MetricTag = "db_in_use_connections"
	DBIdleConnectionsTag          MetricTag = "db_idle_connections"
	DBMaxOpenConnectionsTag       MetricTag = "db_max_open_connections"
	DBWaitCountTotalTag           MetricTag = "db_wait_count_total"
	DBWaitDurationSecondsTotalTag MetricTag = "db_wait_duration_seconds_total"
	DBMaxIdleClosedTotalTag       MetricTag = "db_max_idle_closed_total"
	DBMaxIdleTimeClosedTotalTag   MetricTag = "db_max_idle_time_closed_total"
	DBMaxLifetimeClosedTotalTag   MetricTag = "db_max_lifetime_closed_total"
	// Job queue, registered as a function metric by the job runner:
	JobQueuePendingJobsTag MetricTag = "jobqueue_pending_jobs"
)

func (m MetricTag) ListAll() []MetricTag {
	return []MetricTag{
		SuccessfulQueryDurationTag,
		FailureQueryDurationTag,
		HTTPRequestDurationTag,
		PaymentsInitiatedCounterTag,
		PaymentsSettledCounterTag,
		WalletCreditConflictsCounterTag,
		ReconciliationAttemptsCounterTag,
		PolicyBatchesRunCounterTag,
		PoliciesActivatedCounterTag,
		PolicyBatchFailuresCounterTag,
		NotificationsSentCounterTag,
		NotificationsFailedCounterTag,
		NotificationsRetriedCounterTag,
		NotificationsFailedOverCounterTag,
		LedgerEntriesPostedCounterTag,
		MobileMoneyAPIRequestDurationTag,
		MobileMoneyAPIRequestsTotalTag,
		DBOpenConnectionsTag,
		DBInUseConnectionsTag,
		DBIdleConnectionsTag,
		DBMaxOpenConnectionsTag,
		DBWaitCountTotalTag,
		DBWaitDurationSecondsTotalTag,
		DBMaxIdleClosedTotalTag,
		DBMaxIdleTimeClosedTotalTag,
		DBMaxLifetimeClosedTotalTag,
		JobQueuePendingJobsTag,
	}
}
