package crashtracker

import (
	"context"
	"time"
)

// CrashTrackerClient reports errors and panics to the configured crash
// tracking backend. Clone returns an independent client safe to hand to a
// goroutine, so concurrent scopes do not share breadcrumb state.
type CrashTrackerClient interface {
	LogAndReportErrors(ctx context.Context, err error, msg string)
	LogAndReportMessages(ctx context.Context, msg string)
	FlushEvents(waitTime time.Duration) bool
	Recover()
	Clone() CrashTrackerClient
}
