package settlement

import (
	"context"
	"testing"
	"time"

	"severok-bot/internal/models"
	"severok-bot/internal/payment"
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

type fakeProvider struct {
	lastMetadata map[string]string
}

func (p *fakeProvider) CreatePayment(amount, currency, description, returnURL string, metadata map[string]string) (*payment.PaymentResponse, error) {
	p.lastMetadata = metadata
	return &payment.PaymentResponse{
		ID:     "yk-123",
		Status: "pending",
		Amount: payment.Amount{Value: amount, Currency: currency},
		Confirmation: payment.Confirmation{
			Type:            "redirect",
			ConfirmationURL: "https://pay.example/yk-123",
		},
	}, nil
}

type settleStore struct {
	store.Store
	payments map[string]*models.Payment
	sub      models.Subscription
	days     int
	settled  int
}

func (s *settleStore) CreatePayment(_ context.Context, p *models.Payment) error {
	if s.payments == nil {
		s.payments = make(map[string]*models.Payment)
	}
	p.ID = uint(len(s.payments) + 1)
	s.payments[p.ProviderPaymentID] = p
	return nil
}

func (s *settleStore) SettlePayment(_ context.Context, providerPaymentID string) (*store.SettlementResult, error) {
	p, ok := s.payments[providerPaymentID]
	if !ok || p.Status != models.PaymentStatusPending {
		return nil, store.ErrNoPendingPayment
	}

	wasActive := s.sub.IsActive()
	s.sub.Extend(s.days)
	s.sub.TotalPaid += p.Amount
	p.Status = models.PaymentStatusSucceeded
	s.settled++

	return &store.SettlementResult{
		Payment:         *p,
		Subscription:    s.sub,
		WasActiveBefore: wasActive,
	}, nil
}

func newPendingStore(endDate time.Time) *settleStore {
	return &settleStore{
		payments: map[string]*models.Payment{
			"yk-123": {ID: 1, UserID: 7, Amount: 255, ProviderPaymentID: "yk-123", Status: models.PaymentStatusPending},
		},
		sub:  models.Subscription{ID: 3, UserID: 7, EndDate: endDate, User: models.User{ID: 7, TelegramID: 100500}},
		days: 30,
	}
}

func TestConfirmSettlesExactlyOnce(t *testing.T) {
	st := newPendingStore(time.Now().Add(-time.Hour))
	q := &fakeQueue{}
	c := NewCoordinator(st, q, &fakeProvider{}, "https://t.me/", "RUB")

	settled, err := c.Confirm(context.Background(), "yk-123")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if !settled {
		t.Error("first confirm should settle")
	}

	settled, err = c.Confirm(context.Background(), "yk-123")
	if err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
	if settled {
		t.Error("duplicate confirm must be a no-op")
	}

	if st.settled != 1 {
		t.Errorf("settlements = %d, want 1", st.settled)
	}
	if st.sub.TotalPaid != 255 {
		t.Errorf("TotalPaid = %.2f, want 255", st.sub.TotalPaid)
	}
	if got := q.count(queue.KindReferralAward); got != 1 {
		t.Errorf("referral cascade enqueued %d times, want 1", got)
	}
}

func TestConfirmUnknownPaymentIsNoop(t *testing.T) {
	st := newPendingStore(time.Now())
	q := &fakeQueue{}
	c := NewCoordinator(st, q, &fakeProvider{}, "https://t.me/", "RUB")

	settled, err := c.Confirm(context.Background(), "yk-unknown")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled {
		t.Error("unknown payment must not settle")
	}
	if len(q.tasks) != 0 {
		t.Errorf("tasks = %v, want none", q.tasks)
	}
}

func TestConfirmEnqueuesActivationOnlyOnTransition(t *testing.T) {
	// Lapsed before settlement: the extension reactivates the client.
	st := newPendingStore(time.Now().Add(-time.Hour))
	q := &fakeQueue{}
	c := NewCoordinator(st, q, &fakeProvider{}, "https://t.me/", "RUB")

	if _, err := c.Confirm(context.Background(), "yk-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := q.count(queue.KindEnsureVPNActive); got != 1 {
		t.Errorf("activation enqueued %d times for lapsed subscription, want 1", got)
	}

	// Already active: extension only, the client stays as it is.
	st = newPendingStore(time.Now().Add(24 * time.Hour))
	q = &fakeQueue{}
	c = NewCoordinator(st, q, &fakeProvider{}, "https://t.me/", "RUB")

	if _, err := c.Confirm(context.Background(), "yk-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := q.count(queue.KindEnsureVPNActive); got != 0 {
		t.Errorf("activation enqueued %d times for active subscription, want 0", got)
	}
	if got := q.count(queue.KindReferralAward); got != 1 {
		t.Errorf("referral cascade enqueued %d times, want 1", got)
	}
}

func TestCreatePaymentRecordsPendingCharge(t *testing.T) {
	st := &settleStore{}
	provider := &fakeProvider{}
	c := NewCoordinator(st, &fakeQueue{}, provider, "https://t.me/", "RUB")

	user := &models.User{ID: 7, TelegramID: 100500}
	tariff := &models.Tariff{ID: 2, Name: "Месяц", DurationDays: 30, Price: 255, IsActive: true}

	url, providerID, err := c.CreatePayment(context.Background(), user, tariff)
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if url != "https://pay.example/yk-123" {
		t.Errorf("checkout url = %q", url)
	}
	if providerID != "yk-123" {
		t.Errorf("provider id = %q, want yk-123", providerID)
	}

	p := st.payments["yk-123"]
	if p == nil {
		t.Fatal("payment not recorded")
	}
	if p.Status != models.PaymentStatusPending {
		t.Errorf("status = %q, want pending", p.Status)
	}
	if p.Amount != 255 || p.UserID != 7 || p.TariffID != 2 {
		t.Errorf("payment = %+v", p)
	}
	if provider.lastMetadata["telegram_id"] != "100500" {
		t.Errorf("metadata = %v", provider.lastMetadata)
	}
}
