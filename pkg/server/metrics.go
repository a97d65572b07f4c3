package server

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/rpevents/pkg/events"
	"github.com/crystal-mush/rpevents/pkg/scripts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the game server. Each
// Metrics has its own registry so several games can live in one process.
type Metrics struct {
	game      *Game
	startTime time.Time
	registry  *prometheus.Registry

	sessions        *prometheus.GaugeVec
	eventsActive    prometheus.Gauge
	eventsPending   prometheus.Gauge
	eventsTotal     *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	scriptsRunning  *prometheus.GaugeVec
	scriptRepeats   *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	backups         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	busEvents       *prometheus.CounterVec
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the game.
func NewMetrics(game *Game, startTime time.Time) *Metrics {
	m := &Metrics{
		game:      game,
		startTime: startTime,
		registry:  prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpevents_sessions",
			Help: "Number of open sessions by transport.",
		}, []string{"transport"}),
		eventsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpevents_events_active",
			Help: "Events currently running.",
		}),
		eventsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpevents_events_pending_start",
			Help: "Events with a deferred start armed.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpevents_event_transitions_total",
			Help: "Event lifecycle transitions since server start.",
		}, []string{"transition"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rpevents_tick_duration_seconds",
			Help:    "Time spent in each scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		scriptsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpevents_scripts_running",
			Help: "Running scripts by key.",
		}, []string{"script"}),
		scriptRepeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpevents_script_repeats_total",
			Help: "Script repeats by key and outcome.",
		}, []string{"script", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpevents_queue_depth",
			Help: "Scheduler queue depth by type.",
		}, []string{"queue_type"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpevents_backups_total",
			Help: "Backup archives written, by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpevents_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"code", "method"}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpevents_bus_events_total",
			Help: "Events emitted on the session bus, by type.",
		}, []string{"type"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpevents_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpevents_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpevents_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.eventsActive,
		m.eventsPending,
		m.eventsTotal,
		m.tickDuration,
		m.scriptsRunning,
		m.scriptRepeats,
		m.queueDepth,
		m.backups,
		m.httpRequests,
		m.busEvents,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// Announced implements rpevents.Observer.
func (m *Metrics) Announced(int64) { m.eventsTotal.WithLabelValues("announced").Inc() }

// Started implements rpevents.Observer.
func (m *Metrics) Started(int64) { m.eventsTotal.WithLabelValues("started").Inc() }

// Finished implements rpevents.Observer.
func (m *Metrics) Finished(int64) { m.eventsTotal.WithLabelValues("finished").Inc() }

// Ticked implements rpevents.Observer.
func (m *Metrics) Ticked(elapsed time.Duration) { m.tickDuration.Observe(elapsed.Seconds()) }

// ScriptRepeated counts a script repeat. Used as scripts.Runner.OnRepeat.
func (m *Metrics) ScriptRepeated(key string, out scripts.Outcome) {
	m.scriptRepeats.WithLabelValues(key, out.String()).Inc()
}

// Receive counts bus traffic. Metrics is tapped into the session bus.
func (m *Metrics) Receive(ev events.Event) { m.busEvents.WithLabelValues(ev.Type.String()).Inc() }

// Closed implements events.Subscriber.
func (m *Metrics) Closed() bool { return false }

// BackupDone counts a finished backup attempt.
func (m *Metrics) BackupDone(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.backups.WithLabelValues(result).Inc()
}

// Update refreshes all gauge metrics from current game state.
func (m *Metrics) Update(ctx context.Context) {
	stats := m.game.ConnectionStats()
	m.sessions.WithLabelValues("websocket").Set(float64(stats.WebSocket))
	m.sessions.WithLabelValues("capture").Set(float64(stats.Capture))

	sched := m.game.SchedulerStats(ctx)
	m.eventsActive.Set(float64(sched.Active))
	m.eventsPending.Set(float64(sched.Pending))
	m.queueDepth.WithLabelValues("immediate").Set(float64(sched.Immediate))
	m.queueDepth.WithLabelValues("waiting").Set(float64(sched.Waiting))
	m.scriptsRunning.Reset()
	for key, n := range sched.Scripts {
		m.scriptsRunning.WithLabelValues(key).Set(float64(n))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: log.Default(),
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update(r.Context())
		h.ServeHTTP(w, r)
	})
}
