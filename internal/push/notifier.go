package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/model"
)

const sendTimeout = 30 * time.Second

// Sender delivers one notification to one subscription.
type Sender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload Payload) error
}

// Subscriptions lists and prunes registered browsers.
type Subscriptions interface {
	List(ctx context.Context) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Notifier alerts subscribed browsers when a backup fails. Each distinct
// failure message is sent once; the next success re-arms it, so a
// scheduler retrying every minute does not repeat the alert.
type Notifier struct {
	sender Sender
	subs   Subscriptions
	logger *slog.Logger

	mu        sync.Mutex
	lastAlert string
	wg        sync.WaitGroup
}

func NewNotifier(sender Sender, subs Subscriptions, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, subs: subs, logger: logger}
}

// BackupFinished matches backup.ResultCallback. Alerts are sent in the
// background; Wait blocks until they are done.
func (n *Notifier) BackupFinished(run backup.Run) {
	payload, ok := n.alertFor(run)
	if !ok {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if _, err := n.Notify(ctx, payload); err != nil {
			n.logger.Warn("backup alert failed", "run_id", run.ID, "error", err)
		}
	}()
}

// Wait blocks until background alerts have been sent.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) alertFor(run backup.Run) (Payload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch run.Outcome {
	case backup.OutcomeSuccess:
		n.lastAlert = ""
		return Payload{}, false
	case backup.OutcomeFailed:
	default:
		return Payload{}, false
	}
	if run.Message == n.lastAlert {
		return Payload{}, false
	}
	n.lastAlert = run.Message

	title := "LocalSpeed backup failed"
	if run.Category == backup.CategoryInvalidGrant {
		title = "LocalSpeed backup disabled"
	}
	return Payload{Title: title, Body: run.Message, URL: "/", Tag: "localspeed-backup"}, true
}

// Notify sends payload to every subscription and returns how many accepted
// it. Expired subscriptions are removed.
func (n *Notifier) Notify(ctx context.Context, payload Payload) (int, error) {
	subs, err := n.subs.List(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range subs {
		err := n.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			n.logger.Info("removing expired push subscription", "id", sub.ID)
			if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				n.logger.Warn("failed to remove expired push subscription", "id", sub.ID, "error", err)
			}
		default:
			n.logger.Warn("push send failed", "id", sub.ID, "error", err)
		}
	}
	return sent, nil
}
