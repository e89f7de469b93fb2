package metrics

import "expvar"

var (
	TradesExecuted      = expvar.NewInt("trades_executed")
	TradesRejected      = expvar.NewInt("trades_rejected")
	QuoteRequests       = expvar.NewInt("quote_requests")
	QuoteCacheHits      = expvar.NewInt("quote_cache_hits")
	QuoteFailures       = expvar.NewInt("quote_failures")
	QuoteFallbacks      = expvar.NewInt("quote_fallbacks")
	QuoteBreakerRejects = expvar.NewInt("quote_breaker_rejects")
	SnapshotsWritten    = expvar.NewInt("snapshots_written")
	SnapshotFailures    = expvar.NewInt("snapshot_failures")
	SnapshotRuns        = expvar.NewInt("snapshot_runs")
	EventsDropped       = expvar.NewInt("events_dropped")
)
