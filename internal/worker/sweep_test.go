package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"severok-bot/internal/models"
	"severok-bot/internal/queue"
	"severok-bot/internal/store"
)

type fakeQueue struct {
	tasks []string
}

func (q *fakeQueue) Enqueue(_ context.Context, kind string, _ any) error {
	q.tasks = append(q.tasks, kind)
	return nil
}

func (q *fakeQueue) EnqueueIn(_ context.Context, _ time.Duration, kind string, _ any) error {
	q.tasks = append(q.tasks, kind)
	return nil
}

func (q *fakeQueue) count(kind string) int {
	n := 0
	for _, k := range q.tasks {
		if k == kind {
			n++
		}
	}
	return n
}

type sweepStore struct {
	store.Store
	subs          []*models.Subscription
	rules         []models.NotificationRule
	reminders     map[string]bool
	deactivations int
}

func (s *sweepStore) ExpiredActiveClients(_ context.Context, now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if !sub.EndDate.After(now) && sub.VPNClientActive {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *sweepStore) DeactivateExpired(_ context.Context, id uint) (bool, error) {
	for _, sub := range s.subs {
		if sub.ID != id {
			continue
		}
		if !sub.VPNClientActive || sub.IsActive() {
			return false, nil
		}
		sub.VPNClientActive = false
		s.deactivations++
		return true, nil
	}
	return false, store.ErrNotFound
}

func (s *sweepStore) ActiveRules(_ context.Context) ([]models.NotificationRule, error) {
	var out []models.NotificationRule
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *sweepStore) SubscriptionsEndingBetween(_ context.Context, start, end time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if !sub.EndDate.Before(start) && sub.EndDate.Before(end) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *sweepStore) RecordReminderSent(_ context.Context, userID, ruleID uint, endDate time.Time) error {
	if s.reminders == nil {
		s.reminders = make(map[string]bool)
	}
	key := fmt.Sprintf("%d|%d|%d", userID, ruleID, endDate.UnixNano())
	if s.reminders[key] {
		return store.ErrReminderAlreadySent
	}
	s.reminders[key] = true
	return nil
}

func TestSweepDeactivatesExpiredOnce(t *testing.T) {
	sub := &models.Subscription{
		ID:              1,
		UserID:          1,
		EndDate:         time.Now().Add(-time.Second),
		VPNClientActive: true,
		User:            models.User{ID: 1, TelegramID: 100},
	}
	st := &sweepStore{subs: []*models.Subscription{sub}}
	q := &fakeQueue{}
	sweep := NewSweep(st, q, time.Minute)

	sweep.RunOnce(context.Background())

	if st.deactivations != 1 {
		t.Fatalf("deactivations = %d, want 1", st.deactivations)
	}
	if sub.VPNClientActive {
		t.Error("vpn client flag should be off after the sweep")
	}
	if got := q.count(queue.KindDisableVPN); got != 1 {
		t.Errorf("disable tasks = %d, want 1", got)
	}
	if got := q.count(queue.KindNotify); got != 1 {
		t.Errorf("expiry notifications = %d, want 1", got)
	}

	// Next cycle must not touch the already deactivated subscription.
	sweep.RunOnce(context.Background())

	if st.deactivations != 1 {
		t.Errorf("deactivations after second cycle = %d, want 1", st.deactivations)
	}
	if got := q.count(queue.KindDisableVPN); got != 1 {
		t.Errorf("disable tasks after second cycle = %d, want 1", got)
	}
}

func TestSweepSkipsInactiveClients(t *testing.T) {
	st := &sweepStore{subs: []*models.Subscription{{
		ID:              1,
		EndDate:         time.Now().Add(-time.Hour),
		VPNClientActive: false,
	}}}
	q := &fakeQueue{}

	NewSweep(st, q, time.Minute).RunOnce(context.Background())

	if len(q.tasks) != 0 {
		t.Errorf("tasks = %v, want none for an already disabled client", q.tasks)
	}
}

func TestSweepReminderDedupByEndDate(t *testing.T) {
	sub := &models.Subscription{
		ID:      1,
		UserID:  1,
		EndDate: time.Now().Add(24*time.Hour + 5*time.Minute),
		User:    models.User{ID: 1, TelegramID: 100},
	}
	st := &sweepStore{
		subs: []*models.Subscription{sub},
		rules: []models.NotificationRule{{
			ID:                       1,
			Name:                     "за сутки",
			TriggerHoursBeforeExpiry: 24,
			MessageTemplate:          "Подписка истекает через {days} д. {hours} ч.",
			IsActive:                 true,
		}},
	}
	q := &fakeQueue{}
	sweep := NewSweep(st, q, time.Minute)

	sweep.RunOnce(context.Background())
	if got := q.count(queue.KindNotify); got != 1 {
		t.Fatalf("reminders = %d, want 1", got)
	}

	// Same end date: the reminder already went out.
	sweep.RunOnce(context.Background())
	if got := q.count(queue.KindNotify); got != 1 {
		t.Errorf("reminders after repeat cycle = %d, want 1", got)
	}

	// Extension moves the end date; the new expiry deserves a new reminder.
	sub.EndDate = sub.EndDate.Add(2 * time.Minute)
	sweep.RunOnce(context.Background())
	if got := q.count(queue.KindNotify); got != 2 {
		t.Errorf("reminders after extension = %d, want 2", got)
	}
}

func TestSweepIgnoresInactiveRules(t *testing.T) {
	st := &sweepStore{
		subs: []*models.Subscription{{
			ID:      1,
			UserID:  1,
			EndDate: time.Now().Add(24*time.Hour + 5*time.Minute),
		}},
		rules: []models.NotificationRule{{
			ID:                       1,
			TriggerHoursBeforeExpiry: 24,
			MessageTemplate:          "x",
			IsActive:                 false,
		}},
	}
	q := &fakeQueue{}

	NewSweep(st, q, time.Minute).RunOnce(context.Background())

	if len(q.tasks) != 0 {
		t.Errorf("tasks = %v, want none for inactive rules", q.tasks)
	}
}

func TestRenderReminder(t *testing.T) {
	rule := models.NotificationRule{MessageTemplate: "Осталось {days} д. {hours} ч."}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	end := now.Add(26 * time.Hour)

	got := RenderReminder(rule, end, now)
	want := "Осталось 1 д. 2 ч."
	if got != want {
		t.Errorf("RenderReminder = %q, want %q", got, want)
	}
}
