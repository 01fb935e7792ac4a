package core

// daemon.go – C8 Governance Daemon: cron-like scheduled jobs, one-flight
// per job name, overrun skips rather than runs concurrently.
//
// New component (no direct teacher analogue); the scheduling primitive
// follows the corpus's general preference for stdlib time.Ticker loops
// over a cron-expression parser dependency, since all seven jobs here are
// fixed-interval or fixed-local-time rather than arbitrary cron syntax.

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DaemonJobName identifies one of the seven scheduled jobs.
type DaemonJobName string

const (
	JobHeartbeat      DaemonJobName = "heartbeat"
	JobRefresh        DaemonJobName = "refresh"
	JobDayStart       DaemonJobName = "day_start"
	JobDayEnd         DaemonJobName = "day_end"
	JobModeRecalc     DaemonJobName = "mode_recalc"
	JobWorkQueueSweep DaemonJobName = "work_queue_sweep"
	JobSync           DaemonJobName = "sync"
)

// DaemonHooks are the effects each scheduled job performs; the daemon only
// owns the scheduling discipline, never the domain logic itself.
type DaemonHooks struct {
	Heartbeat      func() error
	Refresh        func() error
	DayStart       func() error
	DayEnd         func() error
	ModeRecalc     func() error
	WorkQueueSweep func() error
	// Sync samples peers and begins a sync round with each; the sync job
	// is scheduled regardless, and a nil hook makes each tick a no-op.
	Sync func() error
}

// JobRunResult records one completed (or failed) invocation of a job, kept
// in a bounded per-job history for daemon.status.
type JobRunResult struct {
	Job        DaemonJobName `json:"job"`
	Ts         time.Time     `json:"ts"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

const daemonHistoryCap = 20

// Daemon runs DaemonHooks on its configured schedule, one invocation
// at a time per job name.
type Daemon struct {
	hooks    DaemonHooks
	log      *logrus.Logger
	clock    func() time.Time
	loc      *time.Location
	stop     chan struct{}
	wg       sync.WaitGroup
	inFlight map[DaemonJobName]*sync.Mutex

	historyMu sync.Mutex
	history   map[DaemonJobName][]JobRunResult
}

// NewDaemon constructs a daemon. loc is the location used to evaluate
// "local" schedule entries (day_start/day_end); clock defaults to
// time.Now when nil.
func NewDaemon(hooks DaemonHooks, log *logrus.Logger, loc *time.Location, clock func() time.Time) *Daemon {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = func() time.Time { return time.Now() }
	}
	return &Daemon{
		hooks: hooks, log: log, clock: clock, loc: loc, stop: make(chan struct{}),
		inFlight: map[DaemonJobName]*sync.Mutex{
			JobHeartbeat: {}, JobRefresh: {}, JobDayStart: {}, JobDayEnd: {},
			JobModeRecalc: {}, JobWorkQueueSweep: {}, JobSync: {},
		},
		history: map[DaemonJobName][]JobRunResult{},
	}
}

// Start launches one goroutine per schedule; each ticks at its own cadence
// and checks local-time jobs every minute rather than sleeping to a
// wall-clock instant, so DST/clock-skew cannot cause a missed firing.
func (d *Daemon) Start() {
	d.wg.Add(3)
	go d.runEvery(5*time.Minute, JobHeartbeat, d.hooks.Heartbeat)
	go d.runEveryMinuteGated(JobWorkQueueSweep, 1*time.Minute, d.hooks.WorkQueueSweep)
	go d.runEveryMinuteGated(JobModeRecalc, 15*time.Minute, d.hooks.ModeRecalc)
	d.wg.Add(1)
	go d.runHourlyTopOfHour(JobRefresh, d.hooks.Refresh)
	d.wg.Add(1)
	go d.runLocalTimeOfDay(JobDayStart, 6, 0, d.hooks.DayStart)
	d.wg.Add(1)
	go d.runLocalTimeOfDay(JobDayEnd, 22, 0, d.hooks.DayEnd)
	d.wg.Add(1)
	go d.runEveryMinuteGated(JobSync, 2*time.Minute, d.hooks.Sync)
}

// Stop signals all scheduler goroutines to exit and waits for them.
func (d *Daemon) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// runOnce runs job name's hook, skipping with a warning if it is already
// in flight (overrun) rather than running it concurrently.
func (d *Daemon) runOnce(name DaemonJobName, fn func() error) {
	if fn == nil {
		return
	}
	lock := d.inFlight[name]
	if !lock.TryLock() {
		d.log.WithField("job", name).Warn("daemon job overrun, skipping this tick")
		return
	}
	defer lock.Unlock()
	start := d.clock()
	err := fn()
	result := JobRunResult{Job: name, Ts: start, DurationMs: d.clock().Sub(start).Milliseconds()}
	if err != nil {
		d.log.WithError(err).WithField("job", name).Error("daemon job failed")
		result.Error = err.Error()
	}
	d.recordHistory(result)
}

func (d *Daemon) recordHistory(r JobRunResult) {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	h := append(d.history[r.Job], r)
	if len(h) > daemonHistoryCap {
		h = h[len(h)-daemonHistoryCap:]
	}
	d.history[r.Job] = h
}

// RunNow triggers name's hook on demand, honoring the same single-flight
// discipline as a scheduled tick (daemon.run in the public API).
func (d *Daemon) RunNow(name DaemonJobName) error {
	fn, ok := d.hookFor(name)
	if !ok {
		return errValidation("invalid job", map[string]any{"job": string(name)})
	}
	d.runOnce(name, fn)
	return nil
}

func (d *Daemon) hookFor(name DaemonJobName) (func() error, bool) {
	switch name {
	case JobHeartbeat:
		return d.hooks.Heartbeat, true
	case JobRefresh:
		return d.hooks.Refresh, true
	case JobDayStart:
		return d.hooks.DayStart, true
	case JobDayEnd:
		return d.hooks.DayEnd, true
	case JobModeRecalc:
		return d.hooks.ModeRecalc, true
	case JobWorkQueueSweep:
		return d.hooks.WorkQueueSweep, true
	case JobSync:
		return d.hooks.Sync, true
	default:
		return nil, false
	}
}

// Status returns a shallow copy of each job's run history, newest last.
func (d *Daemon) Status() map[DaemonJobName][]JobRunResult {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	out := make(map[DaemonJobName][]JobRunResult, len(d.history))
	for job, h := range d.history {
		cp := make([]JobRunResult, len(h))
		copy(cp, h)
		out[job] = cp
	}
	return out
}

func (d *Daemon) runEvery(interval time.Duration, name DaemonJobName, fn func() error) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.runOnce(name, fn)
		}
	}
}

// runEveryMinuteGated ticks every minute but only fires the hook once
// `cadence` has elapsed since its last fire, giving sub-hour cadences a
// uniform, drift-resistant check loop.
func (d *Daemon) runEveryMinuteGated(name DaemonJobName, cadence time.Duration, fn func() error) {
	defer d.wg.Done()
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			now := d.clock()
			if last.IsZero() || now.Sub(last) >= cadence {
				last = now
				d.runOnce(name, fn)
			}
		}
	}
}

func (d *Daemon) runHourlyTopOfHour(name DaemonJobName, fn func() error) {
	defer d.wg.Done()
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	lastHour := -1
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			now := d.clock()
			if now.Minute() == 0 && now.Hour() != lastHour {
				lastHour = now.Hour()
				d.runOnce(name, fn)
			}
		}
	}
}

func (d *Daemon) runLocalTimeOfDay(name DaemonJobName, hour, minute int, fn func() error) {
	defer d.wg.Done()
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	lastDay := -1
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			now := d.clock().In(d.loc)
			if now.Hour() == hour && now.Minute() == minute && now.YearDay() != lastDay {
				lastDay = now.YearDay()
				d.runOnce(name, fn)
			}
		}
	}
}
