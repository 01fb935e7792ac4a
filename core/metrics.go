package core

// metrics.go – Prometheus collectors for the store, admission controller and
// sync engine, exposed over /metrics by the serve subcommand.
//
// Grounded on the prior implementation's system_health_logging.go HealthLogger: a
// dedicated prometheus.Registry owned by one collector struct, gauges set
// from explicit snapshot calls rather than auto-instrumented middleware.

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MetricsSnapshot is one point-in-time read across the kernel's components.
type MetricsSnapshot struct {
	EntityCount     int
	DeltaCount      int
	Mode            Mode
	BuildAllowed    bool
	ClosureRatio    float64
	StreakDays      int
	WorkActive      int
	WorkQueued      int
	WorkCompleted   int64
	PeerCount       int
	MemAllocBytes   uint64
	NumGoroutines   int
	TimestampUnixMs int64
}

// Collector owns a prometheus.Registry and the gauges/counters derived from
// a MetricsSnapshot; it has no knowledge of how the snapshot is produced,
// matching the prior implementation's HealthLogger split between "what to measure" and
// "how to gather it".
type Collector struct {
	mu       sync.Mutex
	log      *logrus.Logger
	registry *prometheus.Registry

	entityCount   prometheus.Gauge
	deltaCount    prometheus.Gauge
	buildAllowed  prometheus.Gauge
	closureRatio  prometheus.Gauge
	streakDays    prometheus.Gauge
	workActive    prometheus.Gauge
	workQueued    prometheus.Gauge
	workCompleted prometheus.Gauge
	peerCount     prometheus.Gauge
	memAlloc      prometheus.Gauge
	goroutines    prometheus.Gauge
	modeGauge     *prometheus.GaugeVec
	errorsTotal   prometheus.Counter
}

// NewCollector builds and registers every gauge under a fresh registry.
func NewCollector(log *logrus.Logger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	c := &Collector{log: log, registry: reg}

	c.entityCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_entity_count", Help: "Number of distinct entities tracked by the store.",
	})
	c.deltaCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_delta_count", Help: "Total deltas committed to the append-only log.",
	})
	c.buildAllowed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_build_allowed", Help: "1 if the current mode permits new build work, else 0.",
	})
	c.closureRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_closure_ratio", Help: "Current closure ratio used by the mode LUT.",
	})
	c.streakDays = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_streak_days", Help: "Consecutive calendar days with at least one closure.",
	})
	c.workActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_work_active", Help: "Jobs currently admitted and running.",
	})
	c.workQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_work_queued", Help: "Jobs waiting on capacity or dependencies.",
	})
	c.workCompleted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_work_completed_total", Help: "Cumulative completed jobs.",
	})
	c.peerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_peer_count", Help: "Peers known to the sync transport.",
	})
	c.memAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_mem_alloc_bytes", Help: "Current heap allocation in bytes.",
	})
	c.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltafabric_goroutines", Help: "Running goroutines.",
	})
	c.modeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deltafabric_mode", Help: "1 for the currently active mode, 0 for all others.",
	}, []string{"mode"})
	c.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltafabric_errors_total", Help: "Errors counted through IncError (metrics server failures).",
	})

	reg.MustRegister(
		c.entityCount, c.deltaCount, c.buildAllowed, c.closureRatio, c.streakDays,
		c.workActive, c.workQueued, c.workCompleted, c.peerCount, c.memAlloc,
		c.goroutines, c.modeGauge, c.errorsTotal,
	)
	return c
}

// IncError increments the error counter. Its only caller is the metrics
// server goroutine, when ListenAndServe stops with an error; other
// error-level log entries are not counted.
func (c *Collector) IncError() {
	c.errorsTotal.Inc()
}

// Record updates every gauge from one snapshot.
func (c *Collector) Record(s MetricsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entityCount.Set(float64(s.EntityCount))
	c.deltaCount.Set(float64(s.DeltaCount))
	if s.BuildAllowed {
		c.buildAllowed.Set(1)
	} else {
		c.buildAllowed.Set(0)
	}
	c.closureRatio.Set(s.ClosureRatio)
	c.streakDays.Set(float64(s.StreakDays))
	c.workActive.Set(float64(s.WorkActive))
	c.workQueued.Set(float64(s.WorkQueued))
	c.workCompleted.Set(float64(s.WorkCompleted))
	c.peerCount.Set(float64(s.PeerCount))
	c.memAlloc.Set(float64(s.MemAllocBytes))
	c.goroutines.Set(float64(s.NumGoroutines))

	for _, m := range []Mode{ModeRecover, ModeCloseLoops, ModeBuild, ModeCompound, ModeScale, ModeMaintenance, ModeClosure} {
		v := 0.0
		if m == s.Mode {
			v = 1
		}
		c.modeGauge.WithLabelValues(string(m)).Set(v)
	}
}

// RuntimeSnapshot fills in the process-level fields of a MetricsSnapshot
// (memory, goroutine count, timestamp); callers set the domain fields
// themselves from Store/Admission/SyncEngine before calling Record.
func RuntimeSnapshot(now time.Time) MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return MetricsSnapshot{
		MemAllocBytes:   mem.Alloc,
		NumGoroutines:   runtime.NumGoroutine(),
		TimestampUnixMs: now.UnixMilli(),
	}
}

// RunCollector records a snapshot on interval until ctx is canceled; build
// calls snapshot() fresh each tick since Store/Admission/SyncEngine state
// changes between ticks.
func RunCollector(ctx context.Context, c *Collector, interval time.Duration, snapshot func() MetricsSnapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Record(snapshot())
		case <-ctx.Done():
			return
		}
	}
}

// ServeHTTP exposes the registry on /metrics, returning the *http.Server so
// callers manage its lifecycle (graceful shutdown on SIGINT/SIGTERM).
func (c *Collector) ServeHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.WithError(err).Error("metrics server stopped")
			c.IncError()
		}
	}()
	return srv
}

// ShutdownHTTP gracefully stops a server started by ServeHTTP.
func (c *Collector) ShutdownHTTP(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
