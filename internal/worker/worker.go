package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"severok-bot/internal/broadcast"
	"severok-bot/internal/notify"
	"severok-bot/internal/queue"
	"severok-bot/internal/referral"
	"severok-bot/internal/store"
	"severok-bot/internal/xui"
)

const (
	maxAttempts = 5
	baseBackoff = 2 * time.Second
	pumpPeriod  = time.Second
)

// Worker consumes tasks from the durable queue. Handlers are idempotent,
// delivery is at-least-once and failed tasks come back with exponential
// backoff until maxAttempts, after which they are dropped with an
// operator-visible error.
type Worker struct {
	queue      *queue.RedisQueue
	store      store.Store
	gateway    xui.Gateway
	cascade    *referral.Cascade
	notifier   notify.Notifier
	broadcasts *broadcast.Runner
}

func NewWorker(q *queue.RedisQueue, st store.Store, gw xui.Gateway, cascade *referral.Cascade, notifier notify.Notifier, broadcasts *broadcast.Runner) *Worker {
	return &Worker{
		queue:      q,
		store:      st,
		gateway:    gw,
		cascade:    cascade,
		notifier:   notifier,
		broadcasts: broadcasts,
	}
}

// Start runs the consumer loops plus the delayed-task pump and blocks until
// the context is canceled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Task worker started with %d consumers", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.consume(ctx)
	}

	ticker := time.NewTicker(pumpPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.PromoteDue(ctx, time.Now()); err != nil {
				log.Printf("Failed to promote delayed tasks: %v", err)
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			log.Printf("Failed to dequeue task: %v", err)
			continue
		}

		if err := w.handle(ctx, task); err != nil {
			w.reschedule(ctx, task, err)
		}
	}
}

func (w *Worker) reschedule(ctx context.Context, task *queue.Task, cause error) {
	if task.Attempts+1 >= maxAttempts {
		log.Printf("ERROR: task %s (%s) dropped after %d attempts: %v",
			task.ID, task.Kind, task.Attempts+1, cause)
		return
	}

	backoff := baseBackoff << task.Attempts
	log.Printf("Task %s (%s) failed, retrying in %s: %v", task.ID, task.Kind, backoff, cause)
	if err := w.queue.Retry(ctx, task, backoff); err != nil {
		log.Printf("ERROR: failed to reschedule task %s: %v", task.ID, err)
	}
}

func (w *Worker) handle(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.KindEnsureVPNActive:
		var p queue.SubscriptionPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.ensureVPNActive(ctx, p.SubscriptionID)

	case queue.KindDisableVPN:
		var p queue.SubscriptionPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.disableVPN(ctx, p.SubscriptionID)

	case queue.KindReferralAward:
		var p queue.ReferralPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.cascade.AwardForPayment(ctx, p.PaymentID)

	case queue.KindNotify:
		var p queue.NotifyPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.notifier.Notify(ctx, p.TelegramID, p.Text)

	case queue.KindRunBroadcast:
		var p queue.BroadcastPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return w.broadcasts.Run(ctx, p.BroadcastID)

	default:
		log.Printf("Unknown task kind %q, dropping", task.Kind)
		return nil
	}
}

func (w *Worker) ensureVPNActive(ctx context.Context, subscriptionID uint) error {
	sub, err := w.store.SubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Subscription %d gone, skipping activation", subscriptionID)
			return nil
		}
		return err
	}

	if err := w.gateway.EnsureActive(sub.VPNClientKey, sub.User.TelegramID); err != nil {
		return fmt.Errorf("failed to activate vpn client for subscription %d: %w", sub.ID, err)
	}

	// The cached flag only changes after the panel confirmed the call.
	return w.store.SetVPNClientActive(ctx, sub.ID, true)
}

func (w *Worker) disableVPN(ctx context.Context, subscriptionID uint) error {
	sub, err := w.store.SubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Subscription %d gone, skipping disable", subscriptionID)
			return nil
		}
		return err
	}

	if err := w.gateway.Disable(sub.VPNClientKey, sub.User.TelegramID); err != nil {
		return fmt.Errorf("failed to disable vpn client for subscription %d: %w", sub.ID, err)
	}
	return nil
}
