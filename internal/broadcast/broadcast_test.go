package broadcast

import (
	"context"
	"errors"
	"testing"

	"severok-bot/internal/models"
	"severok-bot/internal/store"
)

type fakeNotifier struct {
	sent    []int64
	failFor int64
}

func (n *fakeNotifier) Notify(_ context.Context, telegramID int64, _ string) error {
	if telegramID == n.failFor {
		return errors.New("blocked the bot")
	}
	n.sent = append(n.sent, telegramID)
	return nil
}

type broadcastStore struct {
	store.Store
	broadcast *models.Broadcast
	users     []int64
	status    string
}

func (s *broadcastStore) BroadcastByID(_ context.Context, id uint) (*models.Broadcast, error) {
	if s.broadcast == nil || s.broadcast.ID != id {
		return nil, store.ErrNotFound
	}
	return s.broadcast, nil
}

func (s *broadcastStore) AllUserTelegramIDs(_ context.Context) ([]int64, error) {
	return s.users, nil
}

func (s *broadcastStore) SetBroadcastStatus(_ context.Context, _ uint, status string) error {
	s.status = status
	return nil
}

func TestRunDeliversApprovedBroadcast(t *testing.T) {
	st := &broadcastStore{
		broadcast: &models.Broadcast{ID: 1, Text: "hello", Status: models.BroadcastStatusApproved},
		users:     []int64{100, 200, 300},
	}
	n := &fakeNotifier{}

	if err := NewRunner(st, n).Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.sent) != 3 {
		t.Errorf("sent = %v, want 3 deliveries", n.sent)
	}
	if st.status != models.BroadcastStatusSent {
		t.Errorf("status = %q, want SENT", st.status)
	}
}

func TestRunMarksErrorOnPartialFailure(t *testing.T) {
	st := &broadcastStore{
		broadcast: &models.Broadcast{ID: 1, Text: "hello", Status: models.BroadcastStatusApproved},
		users:     []int64{100, 200},
	}
	n := &fakeNotifier{failFor: 200}

	if err := NewRunner(st, n).Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.status != models.BroadcastStatusError {
		t.Errorf("status = %q, want ERROR", st.status)
	}
}

func TestRunSkipsNonApproved(t *testing.T) {
	st := &broadcastStore{
		broadcast: &models.Broadcast{ID: 1, Text: "hello", Status: models.BroadcastStatusSent},
		users:     []int64{100},
	}
	n := &fakeNotifier{}

	if err := NewRunner(st, n).Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.sent) != 0 {
		t.Errorf("sent = %v, want none for an already sent broadcast", n.sent)
	}
	if st.status != "" {
		t.Errorf("status changed to %q, want untouched", st.status)
	}
}

func TestRunMissingBroadcastIsNoop(t *testing.T) {
	if err := NewRunner(&broadcastStore{}, &fakeNotifier{}).Run(context.Background(), 404); err != nil {
		t.Errorf("missing broadcast should be a benign no-op, got %v", err)
	}
}
