package backup

import (
	"time"

	"github.com/dukerupert/localspeed/internal/model"
)

// ShouldRun decides whether a scheduled backup is due at now. It is pure: the
// result depends only on its arguments. A nil lastBackupAt means the backup
// never ran.
//
// A daily policy fires once per calendar day after the target time, even if
// a manual run already happened earlier that day.
func ShouldRun(now time.Time, policy model.BackupPolicy, lastBackupAt *time.Time) bool {
	if !policy.Enabled {
		return false
	}

	target := targetOn(now, policy)
	if now.Before(target) {
		return false
	}
	if lastBackupAt == nil {
		return true
	}

	last := lastBackupAt.In(now.Location())
	// Clock skew: a run recorded in the future counts as done.
	if last.After(now) {
		return false
	}
	if !last.Before(target) {
		return false
	}

	days := daysBetween(last, now)
	freq := policy.Frequency()
	return days >= freq || (freq == 1 && days == 0)
}

// NextDue returns the earliest time at or after now when ShouldRun becomes
// true, or nil when backups are disabled.
func NextDue(now time.Time, policy model.BackupPolicy, lastBackupAt *time.Time) *time.Time {
	if !policy.Enabled {
		return nil
	}
	if ShouldRun(now, policy, lastBackupAt) {
		return &now
	}
	for d := 0; d <= policy.Frequency()+1; d++ {
		candidate := targetOn(now.AddDate(0, 0, d), policy)
		if candidate.Before(now) {
			continue
		}
		if ShouldRun(candidate, policy, lastBackupAt) {
			return &candidate
		}
	}
	return nil
}

func targetOn(day time.Time, policy model.BackupPolicy) time.Time {
	h, m := policy.ClockTime()
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// daysBetween counts calendar days from a to b in b's location.
func daysBetween(a, b time.Time) int {
	return int(civilDay(b) - civilDay(a.In(b.Location())))
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
