package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	folderSyncs      *prometheus.CounterVec
	folderDuration   prometheus.Histogram
	messagesSynced   prometheus.Counter
	accountSyncs     *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	bodyCache        *prometheus.CounterVec
	janitorEvictions *prometheus.CounterVec
	poolTasks        *prometheus.CounterVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		folderSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_folder_syncs_total",
			Help: "Folder sync attempts by result",
		}, []string{"result"}),
		folderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailsync_folder_sync_duration_seconds",
			Help:    "Folder sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		messagesSynced: f.NewCounter(prometheus.CounterOpts{
			Name: "mailsync_messages_synced_total",
			Help: "Header rows newly stored",
		}),
		accountSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_account_syncs_total",
			Help: "Account sync runs by cycle and result",
		}, []string{"cycle", "result"}),
		tokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_token_refreshes_total",
			Help: "OAuth token refreshes by provider and result",
		}, []string{"provider", "result"}),
		bodyCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_body_cache_lookups_total",
			Help: "Body cache lookups by result (hit, miss, corrupt)",
		}, []string{"result"}),
		janitorEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_janitor_evictions_total",
			Help: "Rows or files evicted by the janitor",
		}, []string{"kind"}),
		poolTasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailsync_pool_tasks_total",
			Help: "Background tasks by result",
		}, []string{"result"}),
	}
}

// ObserveFolderSync records one folder sync attempt
func (m *Metrics) ObserveFolderSync(result string, d time.Duration, synced int) {
	if m == nil {
		return
	}
	m.folderSyncs.WithLabelValues(result).Inc()
	m.folderDuration.Observe(d.Seconds())
	m.messagesSynced.Add(float64(synced))
}

// AccountSync records one account run
func (m *Metrics) AccountSync(cycle, result string) {
	if m == nil {
		return
	}
	m.accountSyncs.WithLabelValues(cycle, result).Inc()
}

// TokenRefresh records an OAuth refresh attempt
func (m *Metrics) TokenRefresh(provider, result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(provider, result).Inc()
}

// BodyLookup records a body cache lookup
func (m *Metrics) BodyLookup(result string) {
	if m == nil {
		return
	}
	m.bodyCache.WithLabelValues(result).Inc()
}

// Evicted records janitor evictions
func (m *Metrics) Evicted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorEvictions.WithLabelValues(kind).Add(float64(n))
}

// PoolTask records a finished background task
func (m *Metrics) PoolTask(result string) {
	if m == nil {
		return
	}
	m.poolTasks.WithLabelValues(result).Inc()
}
