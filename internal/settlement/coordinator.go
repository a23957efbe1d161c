package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"

	"severok-bot/internal/models"
	"severok-bot/internal/payment"
	"severok-bot/internal/queue"
	"severok-bot/internal/store"
)

// Provider is the payment provider capability the coordinator needs:
// a hosted checkout it can create charges on.
type Provider interface {
	CreatePayment(amount, currency, description, returnURL string, metadata map[string]string) (*payment.PaymentResponse, error)
}

// Coordinator turns confirmed external payments into subscription
// extensions, exactly once per provider payment id.
type Coordinator struct {
	store     store.Store
	queue     queue.Queue
	provider  Provider
	returnURL string
	currency  string
}

func NewCoordinator(st store.Store, q queue.Queue, provider Provider, returnURL, currency string) *Coordinator {
	return &Coordinator{
		store:     st,
		queue:     q,
		provider:  provider,
		returnURL: returnURL,
		currency:  currency,
	}
}

// CreatePayment opens a hosted checkout for the tariff and records a
// pending payment carrying the provider's charge id. The subscription is
// untouched until the provider confirms. Returns the checkout URL and the
// provider payment id.
func (c *Coordinator) CreatePayment(ctx context.Context, user *models.User, tariff *models.Tariff) (string, string, error) {
	description := fmt.Sprintf("Подписка «%s» на %d дней", tariff.Name, tariff.DurationDays)
	resp, err := c.provider.CreatePayment(
		fmt.Sprintf("%.2f", tariff.Price),
		c.currency,
		description,
		c.returnURL,
		map[string]string{
			"telegram_id": fmt.Sprintf("%d", user.TelegramID),
			"tariff_id":   fmt.Sprintf("%d", tariff.ID),
		},
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create provider charge: %w", err)
	}

	p := &models.Payment{
		UserID:            user.ID,
		TariffID:          tariff.ID,
		Amount:            tariff.Price,
		ProviderPaymentID: resp.ID,
		Status:            models.PaymentStatusPending,
	}
	if err := c.store.CreatePayment(ctx, p); err != nil {
		return "", "", err
	}

	return resp.Confirmation.ConfirmationURL, resp.ID, nil
}

// Confirm is the single settlement entry point for both the webhook and the
// poll delivery paths. It is idempotent: a confirmation for an unknown or
// already settled payment is a no-op. Returns whether this call performed
// the settlement.
//
// Side effects run strictly after the settlement transaction commits, so a
// retried Confirm after a mid-flight failure never double-extends.
func (c *Coordinator) Confirm(ctx context.Context, providerPaymentID string) (bool, error) {
	res, err := c.store.SettlePayment(ctx, providerPaymentID)
	if err != nil {
		if errors.Is(err, store.ErrNoPendingPayment) {
			log.Printf("Payment %s already settled or unknown, skipping", providerPaymentID)
			return false, nil
		}
		return false, fmt.Errorf("settlement failed: %w", err)
	}

	sub := res.Subscription
	log.Printf("Settled payment %s: subscription %d extended, total paid %.2f",
		providerPaymentID, sub.ID, sub.TotalPaid)

	// Provisioning is only needed on the inactive -> active transition; an
	// already enabled client stays enabled through a plain extension.
	if !res.WasActiveBefore && sub.IsActive() {
		err := c.queue.Enqueue(ctx, queue.KindEnsureVPNActive, queue.SubscriptionPayload{
			SubscriptionID: sub.ID,
		})
		if err != nil {
			log.Printf("Failed to enqueue vpn activation for subscription %d: %v", sub.ID, err)
		}
	}

	// The cascade decides for itself whether a bonus applies.
	err = c.queue.Enqueue(ctx, queue.KindReferralAward, queue.ReferralPayload{
		PaymentID: res.Payment.ID,
	})
	if err != nil {
		log.Printf("Failed to enqueue referral cascade for payment %d: %v", res.Payment.ID, err)
	}

	err = c.queue.Enqueue(ctx, queue.KindNotify, queue.NotifyPayload{
		TelegramID: sub.User.TelegramID,
		Text:       fmt.Sprintf("✅ Оплата прошла успешно! Подписка продлена до %s.", sub.EndDate.Format("02.01.2006 15:04")),
	})
	if err != nil {
		log.Printf("Failed to enqueue payment notification for user %d: %v", sub.UserID, err)
	}

	return true, nil
}
