package models

import (
	"testing"
	"time"
)

func TestExtendFromActiveSubscription(t *testing.T) {
	end := time.Now().Add(48 * time.Hour)
	sub := &Subscription{EndDate: end}

	sub.Extend(5)

	want := end.AddDate(0, 0, 5)
	if !sub.EndDate.Equal(want) {
		t.Errorf("EndDate = %v, want %v", sub.EndDate, want)
	}
}

func TestExtendFromLapsedSubscription(t *testing.T) {
	sub := &Subscription{EndDate: time.Now().Add(-10 * 24 * time.Hour)}

	before := time.Now()
	sub.Extend(3)
	after := time.Now()

	if sub.EndDate.Before(before.AddDate(0, 0, 3)) || sub.EndDate.After(after.AddDate(0, 0, 3)) {
		t.Errorf("EndDate = %v, want ~now+3d", sub.EndDate)
	}
}

func TestExtendAccumulates(t *testing.T) {
	end := time.Now().Add(time.Hour)
	sub := &Subscription{EndDate: end}

	sub.Extend(2)
	sub.Extend(3)

	want := end.AddDate(0, 0, 5)
	if !sub.EndDate.Equal(want) {
		t.Errorf("EndDate = %v, want %v", sub.EndDate, want)
	}
}

func TestIsActive(t *testing.T) {
	active := &Subscription{EndDate: time.Now().Add(time.Minute)}
	if !active.IsActive() {
		t.Error("subscription ending in the future should be active")
	}

	lapsed := &Subscription{EndDate: time.Now().Add(-time.Second)}
	if lapsed.IsActive() {
		t.Error("subscription ending in the past should be inactive")
	}
}

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		name  string
		until time.Duration
		want  int
	}{
		{"expired", -time.Hour, 0},
		{"one second left", time.Second, 1},
		{"one day left", 24 * time.Hour, 1},
		{"rounds up", 25 * time.Hour, 2},
		{"a week", 7 * 24 * time.Hour, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{EndDate: time.Now().Add(tt.until)}
			if got := sub.DaysRemaining(); got != tt.want {
				t.Errorf("DaysRemaining() = %d, want %d", got, tt.want)
			}
		})
	}
}
