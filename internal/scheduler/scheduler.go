package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/leader"
	"github.com/dukerupert/localspeed/internal/model"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultJitter   = 5 * time.Second
)

// PolicyLoader reads the current backup policy and run status.
type PolicyLoader interface {
	LoadPolicy(ctx context.Context) (model.BackupPolicy, model.RunStatus, error)
}

// Runner performs one backup attempt.
type Runner interface {
	Run(ctx context.Context) backup.Run
}

// State is the scheduler state of one process. main creates it once and
// passes it to the loop and to the status handlers.
type State struct {
	elector *leader.Elector

	mu       sync.RWMutex
	running  bool
	lastTick time.Time
	nextDue  *time.Time
	lastRun  *backup.Run
}

func NewState(elector *leader.Elector) *State {
	return &State{elector: elector}
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Leader   bool        `json:"leader"`
	Running  bool        `json:"running"`
	LastTick time.Time   `json:"last_tick,omitzero"`
	NextDue  *time.Time  `json:"next_due"`
	LastRun  *backup.Run `json:"last_run,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Leader:   s.elector != nil && s.elector.IsLeader(),
		Running:  s.running,
		LastTick: s.lastTick,
		NextDue:  s.nextDue,
	}
	if s.lastRun != nil {
		r := *s.lastRun
		snap.LastRun = &r
	}
	return snap
}

func (s *State) recordTick(at time.Time, nextDue *time.Time) {
	s.mu.Lock()
	s.lastTick = at
	s.nextDue = nextDue
	s.mu.Unlock()
}

func (s *State) recordRun(run backup.Run) {
	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
}

// Config controls tick spacing.
type Config struct {
	Interval time.Duration
	Jitter   time.Duration
}

// Scheduler is the leader's periodic backup check. Each tick runs to
// completion before the next one is scheduled, so ticks never overlap.
type Scheduler struct {
	state    *State
	policies PolicyLoader
	runner   Runner
	interval time.Duration
	jitter   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. now may be nil.
func New(cfg Config, state *State, policies PolicyLoader, runner Runner, now func() time.Time, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		state:    state,
		policies: policies,
		runner:   runner,
		interval: cfg.Interval,
		jitter:   cfg.Jitter,
		now:      now,
		logger:   logger,
	}
}

// Start begins the loop if this process won the election. Followers return
// immediately and never schedule anything.
func (s *Scheduler) Start(ctx context.Context) {
	if s.state.elector == nil || !s.state.elector.IsLeader() {
		s.logger.Info("scheduler not started, process is not the leader")
		return
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.state.mu.Lock()
	s.state.running = true
	s.state.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval, "jitter", s.jitter)

	go func() {
		defer close(done)
		defer func() {
			s.state.mu.Lock()
			s.state.running = false
			s.state.mu.Unlock()
		}()

		timer := time.NewTimer(s.delay())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				s.Tick(ctx)
				timer.Reset(s.delay())
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick evaluates the schedule once and runs a backup if one is due.
func (s *Scheduler) Tick(ctx context.Context) {
	policy, status, err := s.policies.LoadPolicy(ctx)
	if err != nil {
		s.logger.Error("load backup policy", "error", err)
		return
	}

	now := s.now()
	due := backup.ShouldRun(now, policy, status.LastBackupAt)
	s.state.recordTick(now, backup.NextDue(now, policy, status.LastBackupAt))
	if !due {
		return
	}

	s.logger.Info("scheduled backup due", "last_backup_at", status.LastBackupAt)
	run := s.runner.Run(ctx)
	s.state.recordRun(run)

	// Refresh the hint from the status the run just wrote.
	if policy, status, err := s.policies.LoadPolicy(ctx); err == nil {
		s.state.recordTick(now, backup.NextDue(s.now(), policy, status.LastBackupAt))
	}
}

// delay returns the interval shifted by a uniform offset in [-jitter, +jitter].
func (s *Scheduler) delay() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	offset := time.Duration(rand.Int64N(int64(2*s.jitter)+1)) - s.jitter
	if d := s.interval + offset; d > 0 {
		return d
	}
	return s.interval
}
