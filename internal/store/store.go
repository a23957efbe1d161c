package store

import (
	"context"
	"errors"
	"time"

	"severok-bot/internal/models"
)

var (
	// ErrNotFound covers missing users, subscriptions and payments; callers
	// treat it as a benign no-op unless stated otherwise.
	ErrNotFound = errors.New("store: record not found")
	// ErrNoPendingPayment means the payment is unknown or already settled.
	ErrNoPendingPayment = errors.New("store: no pending payment")
	// ErrBonusAlreadyAwarded means a bonus for the triggering payment exists.
	ErrBonusAlreadyAwarded = errors.New("store: bonus already awarded for payment")
	// ErrReminderAlreadySent means the (user, rule, end date) reminder exists.
	ErrReminderAlreadySent = errors.New("store: reminder already sent")
)

// SettlementResult is what a settled payment looked like inside the
// critical section. WasActiveBefore is captured before the extension.
type SettlementResult struct {
	Payment         models.Payment
	Subscription    models.Subscription
	WasActiveBefore bool
}

type TrialResult struct {
	AlreadyActivated bool
	Subscription     models.Subscription
}

type BonusResult struct {
	Subscription    models.Subscription
	WasActiveBefore bool
}

// Store is the single source of truth for users, subscriptions, tariffs,
// payments and referral bonuses. Methods that mutate a subscription lock
// that subscription's row for the duration of the call; outbound side
// effects are the caller's business and happen after the call returns.
type Store interface {
	// GetOrCreateUser creates the user together with an empty subscription
	// (end date = now, fresh VPN client key) on first contact. A referrer
	// equal to the user themselves or unknown is silently dropped.
	GetOrCreateUser(ctx context.Context, telegramID int64, username string, referrerTelegramID int64) (*models.User, bool, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	SubscriptionByUserID(ctx context.Context, userID uint) (*models.Subscription, error)
	SubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error)
	SetVPNClientActive(ctx context.Context, subscriptionID uint, active bool) error

	ActiveTariffs(ctx context.Context) ([]models.Tariff, error)
	TariffByID(ctx context.Context, id uint) (*models.Tariff, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	// SettlePayment performs the exactly-once settlement unit: re-fetch the
	// payment by provider id filtered to pending, lock the buyer's
	// subscription, extend by the tariff duration, accumulate total paid and
	// mark the payment succeeded. Returns ErrNoPendingPayment when a
	// duplicate confirmation arrives.
	SettlePayment(ctx context.Context, providerPaymentID string) (*SettlementResult, error)

	// ActivateTrial is idempotent: once the trial flag is set the call
	// reports AlreadyActivated without touching the subscription.
	ActivateTrial(ctx context.Context, subscriptionID uint, days int) (*TrialResult, error)

	PaymentForBonus(ctx context.Context, paymentID uint) (*models.Payment, error)
	ActiveTiers(ctx context.Context) ([]models.ReferralTier, error)
	// GrantReferralBonus extends the referrer's subscription and records the
	// bonus in one transaction. A duplicate triggering payment rolls the
	// whole unit back and returns ErrBonusAlreadyAwarded.
	GrantReferralBonus(ctx context.Context, referrerID, buyerID, paymentID uint, bonusDays int) (*BonusResult, error)

	// DeactivateExpired flips the VPN-active flag off for an expired
	// subscription, under the row lock. Reports false when another sweep
	// already did it or the subscription is no longer expired.
	DeactivateExpired(ctx context.Context, subscriptionID uint) (bool, error)
	ExpiredActiveClients(ctx context.Context, now time.Time) ([]models.Subscription, error)
	ActiveRules(ctx context.Context) ([]models.NotificationRule, error)
	SubscriptionsEndingBetween(ctx context.Context, start, end time.Time) ([]models.Subscription, error)
	RecordReminderSent(ctx context.Context, userID, ruleID uint, endDate time.Time) error

	AllUserTelegramIDs(ctx context.Context) ([]int64, error)
	BroadcastByID(ctx context.Context, id uint) (*models.Broadcast, error)
	SetBroadcastStatus(ctx context.Context, id uint, status string) error
}
