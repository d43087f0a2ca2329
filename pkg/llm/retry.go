// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorKind classifies a provider error for retry decisions.
type ErrorKind string

const (
	ErrTimeout    ErrorKind = "timeout"
	ErrRateLimit  ErrorKind = "rate_limit"
	ErrServer     ErrorKind = "server_error"
	ErrAuth       ErrorKind = "auth_error"
	ErrConnection ErrorKind = "connection_error"
	ErrNetwork    ErrorKind = "network_error"
)

// ClassifyError maps an error message onto the retry taxonomy. Everything
// unrecognized is treated as a network error, the broadest retryable kind.
func ClassifyError(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication"):
		return ErrAuth
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "too many requests"):
		return ErrRateLimit
	case strings.Contains(msg, "status 5") || strings.Contains(msg, "internal server") ||
		strings.Contains(msg, "overloaded"):
		return ErrServer
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe"):
		return ErrConnection
	default:
		return ErrNetwork
	}
}

// Retryable reports whether the kind is worth retrying. Auth errors never
// are: the key will not get better with backoff.
func (k ErrorKind) Retryable() bool {
	return k != ErrAuth
}

// RetryStatus is the per-attempt record emitted before each retry so a UI
// can show progress.
type RetryStatus struct {
	IsRetrying     bool
	Attempt        int
	MaxAttempts    int
	DelayMs        int64
	ErrorType      ErrorKind
	RetryStartTime time.Time
}

// RetryPolicy applies capped exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy matches the provider defaults: base 1 s, cap 30 s,
// up to 10 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff before the given 1-based attempt, with up to
// 25% positive jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	jitter := d * 0.25 * rand.Float64()
	total := time.Duration(d + jitter)
	if total > p.MaxDelay {
		total = p.MaxDelay
	}
	return total
}

// Do runs fn with the policy's schedule. onRetry (may be nil) receives a
// RetryStatus before each backoff sleep and a final all-clear record when
// fn eventually succeeds after retries.
func (p RetryPolicy) Do(ctx context.Context, onRetry func(RetryStatus), fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				zap.L().Info("provider retry succeeded", zap.Int("attempt", attempt))
				if onRetry != nil {
					onRetry(RetryStatus{IsRetrying: false, Attempt: attempt, MaxAttempts: p.MaxAttempts})
				}
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("provider call failed (attempt %d/%d): %w", attempt, p.MaxAttempts, err)
		}

		kind := ClassifyError(err)
		if !kind.Retryable() {
			return fmt.Errorf("provider call failed with %s: %w", kind, err)
		}
		if attempt >= p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		zap.L().Warn("provider call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("error_type", string(kind)),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(RetryStatus{
				IsRetrying:     true,
				Attempt:        attempt,
				MaxAttempts:    p.MaxAttempts,
				DelayMs:        delay.Milliseconds(),
				ErrorType:      kind,
				RetryStartTime: time.Now(),
			})
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("provider call failed (attempt %d/%d): %w", attempt, p.MaxAttempts, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("provider call failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
