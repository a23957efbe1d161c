package referral

import (
	"context"
	"errors"
	"fmt"
	"log"

	"severok-bot/internal/models"
	"severok-bot/internal/queue"
	"severok-bot/internal/store"
)

// Cascade awards referral bonuses triggered by settled payments. Duplicate
// invocations for the same payment are safe: the unique link between bonus
// and triggering payment makes the award at-most-once.
type Cascade struct {
	store store.Store
	queue queue.Queue
}

func NewCascade(st store.Store, q queue.Queue) *Cascade {
	return &Cascade{store: st, queue: q}
}

func (c *Cascade) AwardForPayment(ctx context.Context, paymentID uint) error {
	p, err := c.store.PaymentForBonus(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Payment %d not found for referral bonus", paymentID)
			return nil
		}
		return fmt.Errorf("failed to load payment %d: %w", paymentID, err)
	}

	buyer := p.User
	if buyer.ReferrerID == nil || *buyer.ReferrerID == buyer.ID {
		return nil
	}

	tiers, err := c.store.ActiveTiers(ctx)
	if err != nil {
		return err
	}
	tier := MatchTier(tiers, p.Amount)
	if tier == nil {
		log.Printf("No referral tier matches payment %d (amount %.2f)", p.ID, p.Amount)
		return nil
	}

	res, err := c.store.GrantReferralBonus(ctx, *buyer.ReferrerID, buyer.ID, p.ID, tier.BonusDays)
	if err != nil {
		if errors.Is(err, store.ErrBonusAlreadyAwarded) {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("No subscription for referrer %d of payment %d", *buyer.ReferrerID, p.ID)
			return nil
		}
		return fmt.Errorf("failed to grant bonus for payment %d: %w", p.ID, err)
	}

	log.Printf("Awarded %d bonus days to referrer %d for payment %d",
		tier.BonusDays, *buyer.ReferrerID, p.ID)

	if !res.WasActiveBefore && res.Subscription.IsActive() {
		err := c.queue.Enqueue(ctx, queue.KindEnsureVPNActive, queue.SubscriptionPayload{
			SubscriptionID: res.Subscription.ID,
		})
		if err != nil {
			log.Printf("Failed to enqueue vpn activation for referrer subscription %d: %v", res.Subscription.ID, err)
		}
	}

	if buyer.Referrer != nil {
		err := c.queue.Enqueue(ctx, queue.KindNotify, queue.NotifyPayload{
			TelegramID: buyer.Referrer.TelegramID,
			Text: fmt.Sprintf("Класс! За реферальную активность на Ваш лицевой счет начислено %d бонусных дней.",
				tier.BonusDays),
		})
		if err != nil {
			log.Printf("Failed to enqueue bonus notification for referrer %d: %v", *buyer.ReferrerID, err)
		}
	}

	return nil
}

// MatchTier picks the active tier with the largest threshold not exceeding
// the payment amount. Tiers come ordered by threshold ascending.
func MatchTier(tiers []models.ReferralTier, amount float64) *models.ReferralTier {
	var best *models.ReferralTier
	for i := range tiers {
		if !tiers[i].IsActive {
			continue
		}
		if tiers[i].MinPaymentAmount <= amount {
			if best == nil || tiers[i].MinPaymentAmount > best.MinPaymentAmount {
				best = &tiers[i]
			}
		}
	}
	return best
}
