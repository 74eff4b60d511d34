package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/leader"
	"github.com/dukerupert/localspeed/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePolicies struct {
	mu     sync.Mutex
	policy model.BackupPolicy
	status model.RunStatus
	err    error
}

func (f *fakePolicies) LoadPolicy(context.Context) (model.BackupPolicy, model.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy, f.status, f.err
}

// fakeRunner records a successful run the way the executor would.
type fakeRunner struct {
	policies *fakePolicies
	now      func() time.Time
	hold     time.Duration

	runs    atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *fakeRunner) Run(context.Context) backup.Run {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	time.Sleep(r.hold)
	r.runs.Add(1)

	at := r.now()
	r.policies.mu.Lock()
	r.policies.status = model.RunStatus{LastBackupAt: &at, Message: backup.StatusSuccess}
	r.policies.mu.Unlock()
	return backup.Run{Outcome: backup.OutcomeSuccess, Timestamp: at}
}

func date(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func leaderState(t *testing.T) *State {
	t.Helper()
	e := leader.NewElector(leader.NewRegistry().Lock("scheduler"), testLogger(), nil)
	if ok, _ := e.TryBecomeLeader(); !ok {
		t.Fatal("test elector did not win")
	}
	return NewState(e)
}

func TestTick(t *testing.T) {
	last := date("2024-01-01 04:05")
	policy := model.BackupPolicy{Enabled: true, FrequencyDays: 1, TargetTime: "04:00"}

	tests := []struct {
		name     string
		now      time.Time
		policy   model.BackupPolicy
		wantRuns int32
	}{
		{"before target", date("2024-01-02 03:59"), policy, 0},
		{"due", date("2024-01-02 04:01"), policy, 1},
		{"disabled", date("2024-01-02 04:01"), model.BackupPolicy{FrequencyDays: 1, TargetTime: "04:00"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := func() time.Time { return tt.now }
			policies := &fakePolicies{policy: tt.policy, status: model.RunStatus{LastBackupAt: &last}}
			runner := &fakeRunner{policies: policies, now: clock}
			state := leaderState(t)
			s := New(Config{}, state, policies, runner, clock, testLogger())

			s.Tick(context.Background())
			if got := runner.runs.Load(); got != tt.wantRuns {
				t.Errorf("runs = %d, want %d", got, tt.wantRuns)
			}
			if !state.Snapshot().LastTick.Equal(tt.now) {
				t.Errorf("last tick = %v, want %v", state.Snapshot().LastTick, tt.now)
			}
		})
	}
}

func TestTickRunsOncePerSlot(t *testing.T) {
	now := date("2024-01-02 04:01")
	clock := func() time.Time { return now }
	last := date("2024-01-01 04:05")
	policies := &fakePolicies{
		policy: model.BackupPolicy{Enabled: true, FrequencyDays: 1, TargetTime: "04:00"},
		status: model.RunStatus{LastBackupAt: &last},
	}
	runner := &fakeRunner{policies: policies, now: clock}
	state := leaderState(t)
	s := New(Config{}, state, policies, runner, clock, testLogger())

	for range 5 {
		s.Tick(context.Background())
		now = now.Add(time.Minute)
	}
	if got := runner.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	snap := state.Snapshot()
	if snap.LastRun == nil || snap.LastRun.Outcome != backup.OutcomeSuccess {
		t.Errorf("last run = %+v", snap.LastRun)
	}
	if snap.NextDue == nil || !snap.NextDue.Equal(date("2024-01-03 04:00")) {
		t.Errorf("next due = %v, want 2024-01-03 04:00", snap.NextDue)
	}
}

func TestTickLoadError(t *testing.T) {
	policies := &fakePolicies{err: errors.New("database is locked")}
	runner := &fakeRunner{policies: policies, now: time.Now}
	s := New(Config{}, leaderState(t), policies, runner, nil, testLogger())

	s.Tick(context.Background())
	if runner.runs.Load() != 0 {
		t.Error("ran a backup without a policy")
	}
}

func TestFollowerDoesNotSchedule(t *testing.T) {
	r := leader.NewRegistry()
	r.Lock("scheduler").TryLock()
	e := leader.NewElector(r.Lock("scheduler"), testLogger(), nil)
	e.TryBecomeLeader()

	policies := &fakePolicies{policy: model.BackupPolicy{Enabled: true, FrequencyDays: 1, TargetTime: "00:00"}}
	runner := &fakeRunner{policies: policies, now: time.Now}
	state := NewState(e)
	s := New(Config{Interval: time.Millisecond}, state, policies, runner, nil, testLogger())

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if runner.runs.Load() != 0 {
		t.Error("follower ran a backup")
	}
	if state.Snapshot().Running {
		t.Error("follower reports a running scheduler")
	}
}

func TestLoopTicksWithoutOverlap(t *testing.T) {
	policies := &fakePolicies{policy: model.BackupPolicy{Enabled: true, FrequencyDays: 1, TargetTime: "00:00"}}
	var mu sync.Mutex
	now := date("2024-01-02 04:00")
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		// Each reading is a day later, so every tick is due.
		now = now.AddDate(0, 0, 1)
		return now
	}
	runner := &fakeRunner{policies: policies, now: clock, hold: 5 * time.Millisecond}
	state := leaderState(t)
	s := New(Config{Interval: time.Millisecond}, state, policies, runner, clock, testLogger())

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runner.runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !state.Snapshot().Running {
		t.Error("leader scheduler not reported running")
	}
	s.Stop()

	if runner.runs.Load() < 3 {
		t.Errorf("runs = %d, want at least 3", runner.runs.Load())
	}
	if runner.overlap.Load() {
		t.Error("ticks overlapped")
	}
	if state.Snapshot().Running {
		t.Error("scheduler still running after Stop")
	}
}

func TestDelayStaysWithinJitter(t *testing.T) {
	s := New(Config{Interval: DefaultInterval, Jitter: DefaultJitter}, NewState(nil), nil, nil, nil, testLogger())
	seen := map[bool]bool{}
	for range 1000 {
		d := s.delay()
		if d < DefaultInterval-DefaultJitter || d > DefaultInterval+DefaultJitter {
			t.Fatalf("delay = %v, outside %v ± %v", d, DefaultInterval, DefaultJitter)
		}
		seen[d < DefaultInterval] = true
	}
	if !seen[true] || !seen[false] {
		t.Error("jitter never moved the delay in both directions")
	}

	fixed := New(Config{Interval: time.Second}, NewState(nil), nil, nil, nil, testLogger())
	if d := fixed.delay(); d != time.Second {
		t.Errorf("delay without jitter = %v, want 1s", d)
	}
}
