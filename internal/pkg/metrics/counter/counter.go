package counter

import (
	"context"
	"strconv"

	"github.com/reelkit/reelkit/internal/pkg/cache"
)

const (
	webhookEventsKey      = "billing:counters:webhook_events"
	redemptionAttemptsKey = "coupons:counters:redemption_attempts"
)

// AddWebhookEvent increments the received counter for a provider event type.
func AddWebhookEvent(eventType string) error {
	if eventType == "" {
		eventType = "unknown"
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookEventsKey, eventType, 1).Err()
}

// AddRedemptionAttempt increments the attempt counter for a coupon. Attempts
// are counted whether or not the redemption succeeds, so the ratio against
// current_uses shows abuse pressure on a code.
func AddRedemptionAttempt(couponCode string) error {
	if couponCode == "" {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, redemptionAttemptsKey, couponCode, 1).Err()
}

// WebhookEventCounts returns the per-type webhook counters.
func WebhookEventCounts() (map[string]int64, error) {
	return readHash(webhookEventsKey)
}

// RedemptionAttemptCounts returns the per-code redemption attempt counters.
func RedemptionAttemptCounts() (map[string]int64, error) {
	return readHash(redemptionAttemptsKey)
}

// Reset drops all counters. Used by the admin stats endpoint after export.
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, webhookEventsKey, redemptionAttemptsKey).Err()
}

func readHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out, nil
}
