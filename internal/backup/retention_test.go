package backup

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPruneBoundary(t *testing.T) {
	now := at("2024-01-10 12:00:00")
	cutoff := Cutoff(now, 7)
	remote := newFakeRemote()
	remote.objects = []Object{
		{ID: "exact", CreatedAt: cutoff},
		{ID: "older", CreatedAt: cutoff.Add(-time.Nanosecond)},
		{ID: "newer", CreatedAt: cutoff.Add(time.Second)},
	}

	n, err := NewRetentionManager(testLogger()).Prune(context.Background(), remote, "folder", 7, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "older" {
		t.Errorf("deleted = %v, want [older]", remote.deleted)
	}
}

func TestPruneDisabled(t *testing.T) {
	remote := newFakeRemote()
	remote.objects = []Object{{ID: "ancient", CreatedAt: time.Unix(0, 0)}}
	remote.listErr = errors.New("must not be called")

	for _, days := range []int{0, -3} {
		n, err := NewRetentionManager(testLogger()).Prune(context.Background(), remote, "folder", days, time.Now())
		if err != nil || n != 0 {
			t.Errorf("Prune(days=%d) = %d, %v; want 0, nil", days, n, err)
		}
	}
}

func TestPruneIsolatesDeleteFailures(t *testing.T) {
	now := at("2024-01-10 12:00:00")
	remote := newFakeRemote()
	remote.objects = []Object{
		{ID: "a", CreatedAt: now.AddDate(0, 0, -10)},
		{ID: "b", CreatedAt: now.AddDate(0, 0, -11)},
		{ID: "c", CreatedAt: now.AddDate(0, 0, -12)},
	}
	remote.deleteErr["b"] = &RemoteError{Kind: KindNotFound, Op: "delete", Err: errors.New("gone")}

	n, err := NewRetentionManager(testLogger()).Prune(context.Background(), remote, "folder", 7, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
}

func TestPruneListFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = &RemoteError{Kind: KindNetwork, Op: "list", Err: context.DeadlineExceeded}

	if _, err := NewRetentionManager(testLogger()).Prune(context.Background(), remote, "folder", 7, time.Now()); err == nil {
		t.Error("expected list error")
	}
}
