// Package liveness probes gateway connections on a fixed interval and evicts
// the ones that miss a probe acknowledgment.
package liveness

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// State is the heartbeat state of one connection.
type State int

const (
	// Alive means the last probe, if any, was acknowledged.
	Alive State = iota
	// Probing means a probe is outstanding and its timeout is armed.
	Probing
	// Dead means the connection was evicted or stopped. It is terminal.
	Dead
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Probing:
		return "probing"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Target is a connection that can be probed and closed.
type Target interface {
	Ping() error
	Close() error
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clock struct{}

func (clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock schedules callbacks with time.AfterFunc.
var RealClock Scheduler = clock{}

// Config holds the probe cycle timings.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// Jitter spreads the first probe of each connection over [0, Jitter).
	Jitter time.Duration
}

// EvictFunc is called once for every target that goes Dead by timeout or
// probe failure, after its transport has been closed.
type EvictFunc func(Target)

// Monitor creates heartbeats sharing one configuration and scheduler.
type Monitor struct {
	cfg     Config
	sched   Scheduler
	onEvict EvictFunc
	log     *slog.Logger
}

// NewMonitor creates a Monitor. A nil scheduler uses RealClock.
func NewMonitor(cfg Config, sched Scheduler, onEvict EvictFunc, log *slog.Logger) *Monitor {
	if sched == nil {
		sched = RealClock
	}
	if onEvict == nil {
		onEvict = func(Target) {}
	}
	return &Monitor{cfg: cfg, sched: sched, onEvict: onEvict, log: log}
}

// Watch starts the probe cycle for target.
func (m *Monitor) Watch(target Target) *Heartbeat {
	h := &Heartbeat{monitor: m, target: target, state: Alive}

	first := m.cfg.Interval
	if m.cfg.Jitter > 0 {
		first += rand.N(m.cfg.Jitter)
	}

	h.mu.Lock()
	h.armTick(first)
	h.mu.Unlock()
	return h
}

// Heartbeat is the Alive -> Probing -> Alive|Dead machine of one connection.
type Heartbeat struct {
	monitor *Monitor
	target  Target

	mu      sync.Mutex
	state   State
	gen     uint64
	tick    Timer
	timeout Timer
}

// State returns the current state.
func (h *Heartbeat) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Ack records a probe acknowledgment. Acks outside Probing are ignored.
func (h *Heartbeat) Ack() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Probing {
		return
	}
	h.gen++
	stopTimer(h.timeout)
	h.timeout = nil
	h.state = Alive
}

// Stop cancels every pending timer without evicting. It is used when the
// transport closed on its own; the caller handles the cleanup.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gen++
	h.state = Dead
	stopTimer(h.tick)
	stopTimer(h.timeout)
	h.tick, h.timeout = nil, nil
}

// armTick must be called with h.mu held.
func (h *Heartbeat) armTick(d time.Duration) {
	h.tick = h.monitor.sched.AfterFunc(d, h.onTick)
}

func (h *Heartbeat) onTick() {
	h.mu.Lock()
	if h.state == Dead {
		h.mu.Unlock()
		return
	}
	h.armTick(h.monitor.cfg.Interval)
	if h.state == Probing {
		// The previous probe is still waiting for its timeout.
		h.mu.Unlock()
		return
	}

	h.gen++
	gen := h.gen
	h.state = Probing
	h.timeout = h.monitor.sched.AfterFunc(h.monitor.cfg.Timeout, func() {
		h.expire(gen, "probe timeout")
	})
	h.mu.Unlock()

	if err := h.target.Ping(); err != nil {
		h.monitor.log.Debug("Probe send failed", "error", err)
		h.expire(gen, "probe send failed")
	}
}

// expire moves the heartbeat to Dead if gen still names the outstanding
// probe. Only the first caller for a probe evicts.
func (h *Heartbeat) expire(gen uint64, reason string) {
	h.mu.Lock()
	if h.state != Probing || h.gen != gen {
		h.mu.Unlock()
		return
	}
	h.gen++
	h.state = Dead
	stopTimer(h.tick)
	stopTimer(h.timeout)
	h.tick, h.timeout = nil, nil
	h.mu.Unlock()

	h.monitor.log.Info("Evicting unresponsive connection", "reason", reason)
	if err := h.target.Close(); err != nil {
		h.monitor.log.Debug("Close after eviction failed", "error", err)
	}
	h.monitor.onEvict(h.target)
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
