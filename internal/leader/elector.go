package leader

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Elector decides once, at startup, whether this process owns the
// scheduler. A process that loses the election never retries; the next
// chance comes when the whole process set restarts.
type Elector struct {
	lock   Lock
	logger *slog.Logger
	gauge  prometheus.Gauge

	mu      sync.Mutex
	decided bool
	leader  bool
	err     error
}

// NewElector creates an elector over lock. reg may be nil.
func NewElector(lock Lock, logger *slog.Logger, reg prometheus.Registerer) *Elector {
	return &Elector{
		lock:   lock,
		logger: logger,
		gauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "localspeed",
			Subsystem: "scheduler",
			Name:      "leader",
			Help:      "1 if this process runs the backup scheduler.",
		}),
	}
}

// TryBecomeLeader attempts the lock on the first call and returns the same
// answer on every later call. A lock error counts as not leading.
func (e *Elector) TryBecomeLeader() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decided {
		return e.leader, e.err
	}
	e.decided = true

	e.leader, e.err = e.lock.TryLock()
	switch {
	case e.err != nil:
		e.leader = false
		e.logger.Error("leader election failed", "error", e.err)
	case e.leader:
		e.gauge.Set(1)
		e.logger.Info("acquired scheduler lock, this process is the leader")
	default:
		e.logger.Info("scheduler lock held elsewhere, this process is a follower")
	}
	return e.leader, e.err
}

// IsLeader reports the election result without attempting it.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// Resign releases the lock if this process holds it.
func (e *Elector) Resign() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.leader {
		return nil
	}
	e.leader = false
	e.gauge.Set(0)
	return e.lock.Unlock()
}
