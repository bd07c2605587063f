package events

import (
	"time"

	"github.com/bodasure/bodasure-backend/internal/utils"
)

const DefaultMaxBackoffExponent = 8

// ConsumerBackoffManager tracks the exponential backoff applied between
// consume attempts, together with the message (if any) whose handling keeps
// failing, so the consumer can retry it instead of reading a new one.
type ConsumerBackoffManager struct {
	backoffCounter     int
	maxBackoffExponent int
	backoff            time.Duration
	backoffChan        chan<- struct{}
	message            *Message
}

func NewBackoffManager(backoffChan chan<- struct{}, maxBackoffExponent int) *ConsumerBackoffManager {
	if maxBackoffExponent <= 0 || maxBackoffExponent > DefaultMaxBackoffExponent {
		maxBackoffExponent = DefaultMaxBackoffExponent
	}

	return &ConsumerBackoffManager{
		backoffChan:        backoffChan,
		maxBackoffExponent: maxBackoffExponent,
	}
}

func (bm *ConsumerBackoffManager) TriggerBackoff() {
	bm.TriggerBackoffWithMessage(nil)
}

// TriggerBackoffWithMessage bumps the backoff counter and retains the message
// so the next iteration retries it. A nil message keeps whatever message was
// already retained.
func (bm *ConsumerBackoffManager) TriggerBackoffWithMessage(msg *Message) {
	if msg != nil {
		bm.message = msg
	}

	bm.backoffCounter++
	if bm.backoffCounter > bm.maxBackoffExponent {
		bm.backoffCounter = bm.maxBackoffExponent
	}
	// No need to handle this error since it only returns error when retry > 32, < 0
	bm.backoff, _ = utils.ExponentialBackoffInSeconds(bm.backoffCounter)
	bm.backoffChan <- struct{}{}
}

func (bm *ConsumerBackoffManager) IsMaxBackoffReached() bool {
	return bm.backoffCounter >= bm.maxBackoffExponent
}

func (bm *ConsumerBackoffManager) GetMessage() *Message {
	return bm.message
}

func (bm *ConsumerBackoffManager) GetBackoffDuration() time.Duration {
	return bm.backoff
}

func (bm *ConsumerBackoffManager) ResetBackoff() {
	bm.backoffCounter = 0
	bm.backoff = 0
	bm.message = nil
}
