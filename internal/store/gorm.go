package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"severok-bot/internal/models"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetOrCreateUser(ctx context.Context, telegramID int64, username string, referrerTelegramID int64) (*models.User, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up user: %w", err)
	}

	var referrerID *uint
	if referrerTelegramID != 0 && referrerTelegramID != telegramID {
		var referrer models.User
		if err := s.db.WithContext(ctx).Where("telegram_id = ?", referrerTelegramID).First(&referrer).Error; err == nil {
			referrerID = &referrer.ID
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user = models.User{
			TelegramID: telegramID,
			Username:   username,
			ReferrerID: referrerID,
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		sub := models.Subscription{
			UserID:       user.ID,
			EndDate:      time.Now(),
			VPNClientKey: uuid.NewString(),
		}
		if err := tx.Create(&sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		// Concurrent first contact from the same user: the other insert won.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
				return nil, false, fmt.Errorf("failed to re-read user: %w", err)
			}
			return &user, false, nil
		}
		return nil, false, err
	}
	return &user, true, nil
}

func (s *GormStore) UserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) SubscriptionByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (s *GormStore) SubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Preload("User").First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (s *GormStore) SetVPNClientActive(ctx context.Context, subscriptionID uint, active bool) error {
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Update("vpn_client_active", active).Error
	if err != nil {
		return fmt.Errorf("failed to update vpn client flag: %w", err)
	}
	return nil
}

func (s *GormStore) ActiveTariffs(ctx context.Context) ([]models.Tariff, error) {
	var tariffs []models.Tariff
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("\"order\"").Find(&tariffs).Error; err != nil {
		return nil, fmt.Errorf("failed to load tariffs: %w", err)
	}
	return tariffs, nil
}

func (s *GormStore) TariffByID(ctx context.Context, id uint) (*models.Tariff, error) {
	var tariff models.Tariff
	if err := s.db.WithContext(ctx).First(&tariff, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load tariff: %w", err)
	}
	return &tariff, nil
}

func (s *GormStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *GormStore) SettlePayment(ctx context.Context, providerPaymentID string) (*SettlementResult, error) {
	var res SettlementResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider_payment_id = ? AND status = ?", providerPaymentID, models.PaymentStatusPending).
			First(&payment).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoPendingPayment
			}
			return fmt.Errorf("failed to load pending payment: %w", err)
		}

		var tariff models.Tariff
		if err := tx.First(&tariff, payment.TariffID).Error; err != nil {
			return fmt.Errorf("failed to load tariff: %w", err)
		}

		var sub models.Subscription
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", payment.UserID).
			First(&sub).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		res.WasActiveBefore = sub.IsActive()
		sub.Extend(tariff.DurationDays)
		sub.TotalPaid += payment.Amount
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		if err := tx.First(&sub.User, sub.UserID).Error; err != nil {
			return fmt.Errorf("failed to load buyer: %w", err)
		}

		payment.Status = models.PaymentStatusSucceeded
		if err := tx.Save(&payment).Error; err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}

		res.Payment = payment
		res.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GormStore) ActivateTrial(ctx context.Context, subscriptionID uint, days int) (*TrialResult, error) {
	var res TrialResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, subscriptionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		if sub.TrialActivated {
			res.AlreadyActivated = true
			res.Subscription = sub
			return nil
		}

		sub.Extend(days)
		sub.TrialActivated = true
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		res.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GormStore) PaymentForBonus(ctx context.Context, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Preload("User").Preload("User.Referrer").First(&payment, paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &payment, nil
}

func (s *GormStore) ActiveTiers(ctx context.Context) ([]models.ReferralTier, error) {
	var tiers []models.ReferralTier
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("min_payment_amount").Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("failed to load referral tiers: %w", err)
	}
	return tiers, nil
}

func (s *GormStore) GrantReferralBonus(ctx context.Context, referrerID, buyerID, paymentID uint, bonusDays int) (*BonusResult, error) {
	var res BonusResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", referrerID).
			First(&sub).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock referrer subscription: %w", err)
		}

		// The unique triggering-payment index is the at-most-once guarantee:
		// a duplicate insert rolls back the extension with it.
		bonus := models.ReferralBonus{
			ID:                  uuid.NewString(),
			ReferrerID:          referrerID,
			ReferralID:          buyerID,
			TriggeringPaymentID: paymentID,
			BonusDaysAwarded:    bonusDays,
			AwardedAt:           time.Now(),
		}
		if err := tx.Create(&bonus).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrBonusAlreadyAwarded
			}
			return fmt.Errorf("failed to create referral bonus: %w", err)
		}

		res.WasActiveBefore = sub.IsActive()
		sub.Extend(bonusDays)
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to save referrer subscription: %w", err)
		}
		res.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GormStore) DeactivateExpired(ctx context.Context, subscriptionID uint) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, subscriptionID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		// A settlement may have slipped in between the sweep query and this
		// lock; only deactivate subscriptions that are still expired.
		if !sub.VPNClientActive || sub.IsActive() {
			return nil
		}
		sub.VPNClientActive = false
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *GormStore) ExpiredActiveClients(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Preload("User").
		Where("end_date <= ? AND vpn_client_active = ?", now, true).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) ActiveRules(ctx context.Context) ([]models.NotificationRule, error) {
	var rules []models.NotificationRule
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load notification rules: %w", err)
	}
	return rules, nil
}

func (s *GormStore) SubscriptionsEndingBetween(ctx context.Context, start, end time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Preload("User").
		Where("end_date >= ? AND end_date < ?", start, end).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) RecordReminderSent(ctx context.Context, userID, ruleID uint, endDate time.Time) error {
	record := models.SentNotification{
		UserID:                    userID,
		RuleID:                    ruleID,
		SubscriptionEndDateAtSend: endDate,
		SentAt:                    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrReminderAlreadySent
		}
		return fmt.Errorf("failed to record reminder: %w", err)
	}
	return nil
}

func (s *GormStore) AllUserTelegramIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Pluck("telegram_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

func (s *GormStore) BroadcastByID(ctx context.Context, id uint) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load broadcast: %w", err)
	}
	return &b, nil
}

func (s *GormStore) SetBroadcastStatus(ctx context.Context, id uint, status string) error {
	err := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update broadcast status: %w", err)
	}
	return nil
}
