package queue

import (
	"context"
	"time"
)

// Task kinds routed by the worker. Payloads are the structs below.
const (
	KindEnsureVPNActive = "vpn.ensure_active"
	KindDisableVPN      = "vpn.disable"
	KindReferralAward   = "referral.award"
	KindNotify          = "notify.message"
	KindRunBroadcast    = "broadcast.run"
)

type SubscriptionPayload struct {
	SubscriptionID uint `json:"subscription_id"`
}

type ReferralPayload struct {
	PaymentID uint `json:"payment_id"`
}

type NotifyPayload struct {
	TelegramID int64  `json:"telegram_id"`
	Text       string `json:"text"`
}

type BroadcastPayload struct {
	BroadcastID uint `json:"broadcast_id"`
}

// Queue is the fire-and-forget side of the task queue. Delivery is
// at-least-once, so every task handler has to be idempotent.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any) error
	EnqueueIn(ctx context.Context, delay time.Duration, kind string, payload any) error
}
