package backup

import (
	"testing"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func dailyPolicy(freq int) model.BackupPolicy {
	return model.BackupPolicy{Enabled: true, FrequencyDays: freq, TargetTime: "04:00", FolderName: "b"}
}

func TestShouldRun(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		policy model.BackupPolicy
		last   *time.Time
		want   bool
	}{
		{"disabled", at("2024-01-03 05:00:00"), model.BackupPolicy{TargetTime: "04:00", FrequencyDays: 1}, nil, false},
		{"never ran before target", at("2024-01-03 03:59:00"), dailyPolicy(1), nil, false},
		{"never ran at target", at("2024-01-03 04:00:00"), dailyPolicy(1), nil, true},
		{"two day policy one day elapsed", at("2024-01-02 04:10:00"), dailyPolicy(2), ptr(at("2024-01-01 04:05:00")), false},
		{"two day policy two days elapsed", at("2024-01-03 04:10:00"), dailyPolicy(2), ptr(at("2024-01-01 04:05:00")), true},
		{"daily before target", at("2024-01-02 03:59:59"), dailyPolicy(1), ptr(at("2024-01-01 04:05:00")), false},
		{"daily after target", at("2024-01-02 04:00:00"), dailyPolicy(1), ptr(at("2024-01-01 04:05:00")), true},
		{"daily already ran after target", at("2024-01-02 09:00:00"), dailyPolicy(1), ptr(at("2024-01-02 04:00:30")), false},
		{"daily catch-up after early manual run", at("2024-01-02 04:10:00"), dailyPolicy(1), ptr(at("2024-01-02 02:00:00")), true},
		{"two day policy has no catch-up", at("2024-01-02 04:10:00"), dailyPolicy(2), ptr(at("2024-01-02 02:00:00")), false},
		{"last run in the future", at("2024-01-02 04:10:00"), dailyPolicy(1), ptr(at("2024-01-05 04:00:00")), false},
		{"zero frequency acts as daily", at("2024-01-02 04:10:00"), dailyPolicy(0), ptr(at("2024-01-01 04:05:00")), true},
		{"invalid time falls back to 04:00", at("2024-01-02 03:30:00"), model.BackupPolicy{Enabled: true, FrequencyDays: 1, TargetTime: "bogus"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRun(tt.now, tt.policy, tt.last); got != tt.want {
				t.Errorf("ShouldRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRunFalseAfterSuccess(t *testing.T) {
	policy := dailyPolicy(1)
	last := at("2024-01-01 04:05:00")

	for minute := 0; minute < 24*60; minute += 7 {
		now := at("2024-01-02 00:00:00").Add(time.Duration(minute) * time.Minute)
		due := ShouldRun(now, policy, &last)
		wantDue := now.Hour() >= 4
		if due != wantDue {
			t.Fatalf("ShouldRun(%s) = %v, want %v", now.Format(time.Kitchen), due, wantDue)
		}
		if due {
			done := now
			if ShouldRun(now, policy, &done) {
				t.Fatalf("ShouldRun(%s) still true after a successful run", now.Format(time.Kitchen))
			}
		}
	}
}

func TestShouldRunIsPure(t *testing.T) {
	now := at("2024-01-02 04:10:00")
	policy := dailyPolicy(1)
	last := at("2024-01-02 02:00:00")

	first := ShouldRun(now, policy, &last)
	second := ShouldRun(now, policy, &last)
	if first != second {
		t.Errorf("ShouldRun returned %v then %v for identical inputs", first, second)
	}
	if !last.Equal(at("2024-01-02 02:00:00")) {
		t.Error("ShouldRun modified lastBackupAt")
	}
}

func TestShouldRunUsesLocalCalendarDays(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	policy := dailyPolicy(1)
	// 2024-01-01 20:00 UTC is already 2024-01-02 06:00 locally.
	last := at("2024-01-01 20:00:00")
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, loc)

	if ShouldRun(now, policy, &last) {
		t.Error("run at 06:00 local should satisfy the same local day")
	}
}

func TestNextDue(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		if got := NextDue(at("2024-01-02 03:00:00"), model.BackupPolicy{}, nil); got != nil {
			t.Errorf("NextDue = %v, want nil", got)
		}
	})

	t.Run("later today", func(t *testing.T) {
		got := NextDue(at("2024-01-02 03:00:00"), dailyPolicy(1), ptr(at("2024-01-01 04:05:00")))
		if got == nil || !got.Equal(at("2024-01-02 04:00:00")) {
			t.Errorf("NextDue = %v, want 2024-01-02 04:00", got)
		}
	})

	t.Run("due now", func(t *testing.T) {
		now := at("2024-01-02 05:00:00")
		got := NextDue(now, dailyPolicy(1), ptr(at("2024-01-01 04:05:00")))
		if got == nil || !got.Equal(now) {
			t.Errorf("NextDue = %v, want %v", got, now)
		}
	})

	t.Run("two day policy", func(t *testing.T) {
		got := NextDue(at("2024-01-02 04:10:00"), dailyPolicy(2), ptr(at("2024-01-01 04:05:00")))
		if got == nil || !got.Equal(at("2024-01-03 04:00:00")) {
			t.Errorf("NextDue = %v, want 2024-01-03 04:00", got)
		}
	})

	t.Run("tomorrow after todays run", func(t *testing.T) {
		got := NextDue(at("2024-01-02 10:00:00"), dailyPolicy(1), ptr(at("2024-01-02 04:01:00")))
		if got == nil || !got.Equal(at("2024-01-03 04:00:00")) {
			t.Errorf("NextDue = %v, want 2024-01-03 04:00", got)
		}
	})
}
