package worker

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"severok-bot/internal/models"
	"severok-bot/internal/queue"
	"severok-bot/internal/store"
)

// Reminder rules fire for subscriptions ending inside a window this wide,
// starting lead-time from now. Must not be shorter than the sweep interval
// or expiries can slip between windows.
const reminderWindow = 10 * time.Minute

// Sweep periodically deactivates expired subscriptions and schedules
// expiry reminders. All outbound effects go through the task queue.
type Sweep struct {
	store    store.Store
	queue    queue.Queue
	interval time.Duration
}

func NewSweep(st store.Store, q queue.Queue, interval time.Duration) *Sweep {
	return &Sweep{
		store:    st,
		queue:    q,
		interval: interval,
	}
}

func (s *Sweep) Start(ctx context.Context) {
	log.Println("Expiry sweep started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once at start
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweep) RunOnce(ctx context.Context) {
	now := time.Now()
	s.deactivateExpired(ctx, now)
	s.sendReminders(ctx, now)
}

func (s *Sweep) deactivateExpired(ctx context.Context, now time.Time) {
	expired, err := s.store.ExpiredActiveClients(ctx, now)
	if err != nil {
		log.Printf("Error querying expired subscriptions: %v", err)
		return
	}

	for _, sub := range expired {
		changed, err := s.store.DeactivateExpired(ctx, sub.ID)
		if err != nil {
			log.Printf("Failed to deactivate subscription %d: %v", sub.ID, err)
			continue
		}
		if !changed {
			continue
		}

		log.Printf("Subscription %d of user %d expired, disabling vpn client", sub.ID, sub.User.TelegramID)

		err = s.queue.Enqueue(ctx, queue.KindDisableVPN, queue.SubscriptionPayload{
			SubscriptionID: sub.ID,
		})
		if err != nil {
			log.Printf("Failed to enqueue vpn disable for subscription %d: %v", sub.ID, err)
		}

		err = s.queue.Enqueue(ctx, queue.KindNotify, queue.NotifyPayload{
			TelegramID: sub.User.TelegramID,
			Text:       "Обращаем внимание, Ваша подписка закончилась и vpn остановлен! Докупите дней и подписка останется активной!",
		})
		if err != nil {
			log.Printf("Failed to enqueue expiry notification for user %d: %v", sub.User.TelegramID, err)
		}
	}
}

func (s *Sweep) sendReminders(ctx context.Context, now time.Time) {
	rules, err := s.store.ActiveRules(ctx)
	if err != nil {
		log.Printf("Error loading notification rules: %v", err)
		return
	}

	for _, rule := range rules {
		start := now.Add(time.Duration(rule.TriggerHoursBeforeExpiry) * time.Hour)
		end := start.Add(reminderWindow)

		subs, err := s.store.SubscriptionsEndingBetween(ctx, start, end)
		if err != nil {
			log.Printf("Error querying subscriptions for rule %q: %v", rule.Name, err)
			continue
		}

		for _, sub := range subs {
			// The dedup record keys on the exact end date: extending after a
			// reminder makes the new expiry eligible for a fresh one.
			err := s.store.RecordReminderSent(ctx, sub.UserID, rule.ID, sub.EndDate)
			if err != nil {
				if errors.Is(err, store.ErrReminderAlreadySent) {
					continue
				}
				log.Printf("Failed to record reminder for user %d: %v", sub.UserID, err)
				continue
			}

			err = s.queue.Enqueue(ctx, queue.KindNotify, queue.NotifyPayload{
				TelegramID: sub.User.TelegramID,
				Text:       RenderReminder(rule, sub.EndDate, now),
			})
			if err != nil {
				log.Printf("Failed to enqueue reminder for user %d: %v", sub.User.TelegramID, err)
			} else {
				log.Printf("Scheduled reminder by rule %q for user %d", rule.Name, sub.User.TelegramID)
			}
		}
	}
}

// RenderReminder fills {days} and {hours} in a rule's message template with
// the time remaining until the end date.
func RenderReminder(rule models.NotificationRule, endDate, now time.Time) string {
	remaining := endDate.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	days := int(remaining / (24 * time.Hour))
	hours := int((remaining % (24 * time.Hour)) / time.Hour)

	msg := strings.ReplaceAll(rule.MessageTemplate, "{days}", strconv.Itoa(days))
	msg = strings.ReplaceAll(msg, "{hours}", strconv.Itoa(hours))
	return msg
}
