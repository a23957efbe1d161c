package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"

	"severok-bot/internal/models"
	"severok-bot/internal/notify"
	"severok-bot/internal/store"
)

// Runner delivers an approved broadcast to every user. Scheduling for a
// later moment is the queue's job (EnqueueIn), not a second code path here.
type Runner struct {
	store    store.Store
	notifier notify.Notifier
}

func NewRunner(st store.Store, notifier notify.Notifier) *Runner {
	return &Runner{store: st, notifier: notifier}
}

func (r *Runner) Run(ctx context.Context, broadcastID uint) error {
	b, err := r.store.BroadcastByID(ctx, broadcastID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Broadcast %d not found, skipping", broadcastID)
			return nil
		}
		return fmt.Errorf("failed to load broadcast %d: %w", broadcastID, err)
	}

	// A re-delivered task for an already sent or canceled broadcast does
	// nothing.
	if b.Status != models.BroadcastStatusApproved {
		log.Printf("Broadcast %d has status %s, skipping", b.ID, b.Status)
		return nil
	}

	ids, err := r.store.AllUserTelegramIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.Printf("Broadcast %d: no users to send to", b.ID)
		return r.store.SetBroadcastStatus(ctx, b.ID, models.BroadcastStatusError)
	}

	failed := 0
	for _, telegramID := range ids {
		if err := r.notifier.Notify(ctx, telegramID, b.Text); err != nil {
			failed++
			log.Printf("Broadcast %d: delivery to %d failed: %v", b.ID, telegramID, err)
		}
	}

	status := models.BroadcastStatusSent
	if failed > 0 {
		status = models.BroadcastStatusError
	}
	log.Printf("Broadcast %d finished: %d users, %d failures", b.ID, len(ids), failed)
	return r.store.SetBroadcastStatus(ctx, b.ID, status)
}
