// Package usage implements per-account quota admission and usage recording
// on Redis fixed-window counters.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned by CheckAvailable when an account has used up
// its budget for the current window. Retryable after the window resets.
var ErrQuotaExceeded = errors.New("usage quota exceeded")

// Meter is the admission and accounting boundary consulted around each turn.
type Meter interface {
	// CheckAvailable fails with ErrQuotaExceeded when the account is over
	// budget. It performs no mutation and is safe to retry.
	CheckAvailable(ctx context.Context, accountID int64) error

	// RecordUsage adds the input and output sizes of a completed turn to the
	// account's counter for the current window.
	RecordUsage(ctx context.Context, accountID int64, inputSize, outputSize int) error
}

// RedisMeter implements Meter with one counter key per account and window
// bucket.
type RedisMeter struct {
	client *redis.Client
	budget int64
	window time.Duration
}

// NewRedisMeter creates a meter allowing budget units of combined input and
// output per account per window.
func NewRedisMeter(client *redis.Client, budget int64, window time.Duration) *RedisMeter {
	return &RedisMeter{client: client, budget: budget, window: window}
}

// usageKey returns the counter key for an account in the window bucket
// containing now.
func (m *RedisMeter) usageKey(accountID int64, now time.Time) string {
	bucket := now.Unix() / int64(m.window.Seconds())
	return fmt.Sprintf("usage:account:%d:%d", accountID, bucket)
}

// CheckAvailable implements Meter.
func (m *RedisMeter) CheckAvailable(ctx context.Context, accountID int64) error {
	used, err := m.client.Get(ctx, m.usageKey(accountID, time.Now())).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("usage lookup: %w", err)
	}
	if used >= m.budget {
		return ErrQuotaExceeded
	}
	return nil
}

// RecordUsage implements Meter.
func (m *RedisMeter) RecordUsage(ctx context.Context, accountID int64, inputSize, outputSize int) error {
	key := m.usageKey(accountID, time.Now())

	pipe := m.client.Pipeline()
	pipe.IncrBy(ctx, key, int64(inputSize+outputSize))
	pipe.Expire(ctx, key, m.window*2)
	_, err := pipe.Exec(ctx)
	return err
}
