package utils

import (
	"errors"
	"fmt"
	"time"
)

// MaxBackoffRetryValue caps the exponent so the shift below cannot overflow.
const MaxBackoffRetryValue = 32

var (
	ErrInvalidBackoffRetryValue = errors.New("invalid backoff retry value")
	ErrMaxRetryValueOverflow    = errors.New("max retry value overflow")
)

// CalculateExponentialBackoffDuration returns 2^retry as a time.Duration, so
// callers can scale it by the unit they need:
//
//	CalculateExponentialBackoffDuration(1) -> time.Duration(2)
//	CalculateExponentialBackoffDuration(2) -> time.Duration(4)
//	CalculateExponentialBackoffDuration(3) -> time.Duration(8)
func CalculateExponentialBackoffDuration(retry int) (time.Duration, error) {
	if retry < 0 {
		return 0, ErrInvalidBackoffRetryValue
	}

	if retry > MaxBackoffRetryValue {
		return 0, ErrMaxRetryValueOverflow
	}

	return time.Duration(1 << retry), nil
}

// ExponentialBackoffInSeconds returns 2^retry seconds.
func ExponentialBackoffInSeconds(retry int) (time.Duration, error) {
	backoff, err := CalculateExponentialBackoffDuration(retry)
	if err != nil {
		return 0, fmt.Errorf("calculating exponential backoff duration: %w", err)
	}

	return time.Second * backoff, nil
}

// ExponentialBackoffCapped returns initialDelay × 2^attempt, clamped to
// maxDelay. The delayed-payment reconciler starts from the inline polling
// timeout and stretches out to a configured ceiling.
func ExponentialBackoffCapped(initialDelay time.Duration, attempt int, maxDelay time.Duration) (time.Duration, error) {
	factor, err := CalculateExponentialBackoffDuration(attempt)
	if err != nil {
		return 0, fmt.Errorf("calculating exponential backoff factor: %w", err)
	}

	delay := initialDelay * factor
	if maxDelay > 0 && (delay > maxDelay || delay < initialDelay) {
		delay = maxDelay
	}

	return delay, nil
}
