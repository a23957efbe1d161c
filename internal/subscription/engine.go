package subscription

import (
	"context"
	"fmt"
	"log"

	"severok-bot/internal/queue"
	"severok-bot/internal/store"
)

// Engine owns the subscription state machine. Persistence goes through the
// store; VPN provisioning is requested through the task queue after the
// owning transaction commits.
type Engine struct {
	store     store.Store
	queue     queue.Queue
	trialDays int
}

func NewEngine(st store.Store, q queue.Queue, trialDays int) *Engine {
	return &Engine{
		store:     st,
		queue:     q,
		trialDays: trialDays,
	}
}

// ActivateTrial grants the trial period once per subscription. A repeated
// call is a successful no-op, which makes double-taps in the bot UI safe.
// Returns whether the subscription is entitled afterwards.
func (e *Engine) ActivateTrial(ctx context.Context, subscriptionID uint) (bool, error) {
	res, err := e.store.ActivateTrial(ctx, subscriptionID, e.trialDays)
	if err != nil {
		return false, fmt.Errorf("trial activation failed: %w", err)
	}

	if !res.AlreadyActivated {
		err := e.queue.Enqueue(ctx, queue.KindEnsureVPNActive, queue.SubscriptionPayload{
			SubscriptionID: res.Subscription.ID,
		})
		if err != nil {
			log.Printf("Failed to enqueue vpn activation for subscription %d: %v", res.Subscription.ID, err)
		}
	}

	return res.Subscription.IsActive(), nil
}
