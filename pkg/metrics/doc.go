/*
Package metrics exposes PeerVault's Prometheus instrumentation and
health/readiness/liveness HTTP handlers.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                             │
	│  Collector (15s ticker)                                    │
	│    polls PeerManager (PeerSource) + DocumentManager         │
	│    (DocumentSource), updates gauges                         │
	│       │                                                     │
	│  Prometheus registry (client_golang)                       │
	│    counters / histograms / gauges, registered at init()    │
	│       │                                                     │
	│  metrics.Handler() -> promhttp.Handler() on /metrics       │
	│                                                              │
	│  HealthChecker (independent of the above)                  │
	│    RegisterComponent/UpdateComponent -> /health /ready /live│
	└──────────────────────────────────────────────────────────────┘

# Metrics catalog

peervault_peers_total{state}:
  - Type: Gauge
  - Description: roster peers by PeerState (disconnected/connecting/syncing/synced/error)
  - Updated by: Collector polling PeerManager every 15s

peervault_sync_duration_seconds{outcome}:
  - Type: Histogram
  - Description: sync session duration, outcome is "ok"/"error"/"transient-error"/"cancelled"
  - Updated by: SyncSession.Run when the session returns

peervault_syncs_total{outcome}:
  - Type: CounterVec
  - Description: count of completed sync sessions by outcome

peervault_blob_bytes_total{direction}:
  - Type: CounterVec
  - Description: blob bytes transferred, direction is "sent"/"received"
  - Updated by: SyncSession as blob-transfer frames complete

peervault_conflicts_total{kind}:
  - Type: CounterVec
  - Description: detected conflicts by ConflictKind
  - Updated by: ConflictTracker when it opens a new conflict record for a path

peervault_gc_duration_seconds:
  - Type: Histogram
  - Description: garbage collection run duration
  - Updated by: GarbageCollector after each run

peervault_gc_runs_total / peervault_gc_bytes_reclaimed_total:
  - Type: Counter
  - Description: completed GC runs, cumulative bytes reclaimed

peervault_document_size_bytes:
  - Type: Gauge
  - Description: size in bytes of the current exported operation log
  - Updated by: Collector polling DocumentManager every 15s

peervault_migrations_applied_total{to_version}:
  - Type: CounterVec
  - Description: schema migrations applied, labeled by destination version
  - Updated by: MigrationRunner after each successful step

# Usage

	metrics.SetVersion(version.String())
	collector := metrics.NewCollector(peerManager, documentManager)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

Recording a histogram observation with Timer:

	timer := metrics.NewTimer()
	err := peerManager.SyncAll(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	timer.ObserveDurationVec(metrics.SyncDuration, outcome)
	metrics.SyncsTotal.WithLabelValues(outcome).Inc()

# Health vs. metrics

HealthChecker is independent of the Prometheus registry: it answers
"is this process usable right now" for orchestrators and load
balancers, while the Prometheus metrics answer "how is it performing
over time" for dashboards and alerting. RegisterComponent("storage",
...), RegisterComponent("engine", ...), and RegisterComponent("transport",
...) are the three components GetReadiness treats as critical — a
process that hasn't registered all three, or has registered one as
unhealthy, reports not_ready.
*/
package metrics
