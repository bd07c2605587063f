package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

type MessageChannel string

const (
	MessageChannelSMS      MessageChannel = "SMS"
	MessageChannelWhatsApp MessageChannel = "WHATSAPP"
	MessageChannelEmail    MessageChannel = "EMAIL"
)

func ParseMessageChannel(channelStr string) (MessageChannel, error) {
	channel := MessageChannel(strings.ToUpper(channelStr))
	switch channel {
	case MessageChannelSMS, MessageChannelWhatsApp, MessageChannelEmail:
		return channel, nil
	default:
		return "", fmt.Errorf("invalid message channel %q", channelStr)
	}
}

const (
	// DefaultMaxRetries is how many times a send is retried against the same
	// provider on top of the initial attempt.
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelay is the base delay of the exponential backoff
	// between attempts.
	DefaultRetryBaseDelay = 500 * time.Millisecond
	// DefaultHealthCacheTTL is how long a provider stays marked unhealthy.
	DefaultHealthCacheTTL = 60 * time.Second
	// MaxBulkBatchSize caps how many messages go to a provider in one SendBulk call.
	MaxBulkBatchSize = 100

	healthCacheSize = 16
)

// DispatchResult describes how a message ultimately went out.
type DispatchResult struct {
	MessengerType     MessengerType
	ExternalMessageID string
	Attempts          int
	FailedOver        bool
}

type MessageDispatcherInterface interface {
	RegisterChannel(ctx context.Context, channel MessageChannel, primary, secondary MessengerClient)
	SendMessage(ctx context.Context, message Message, channelPriority []MessageChannel) (DispatchResult, error)
	SendBulk(ctx context.Context, channel MessageChannel, messages []Message) ([]BulkSendResult, error)
	GetClient(channel MessageChannel) (MessengerClient, error)
}

// channelClients is the (primary, secondary) provider pair serving a channel.
// secondary may be nil.
type channelClients struct {
	primary   MessengerClient
	secondary MessengerClient
}

type MessageDispatcher struct {
	clients        map[MessageChannel]*channelClients
	healthCache    *expirable.LRU[string, bool]
	maxRetries     uint
	retryBaseDelay time.Duration
}

type DispatcherOptions struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	HealthCacheTTL time.Duration
}

func NewMessageDispatcher(opts DispatcherOptions) *MessageDispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.HealthCacheTTL <= 0 {
		opts.HealthCacheTTL = DefaultHealthCacheTTL
	}

	return &MessageDispatcher{
		clients:        make(map[MessageChannel]*channelClients),
		healthCache:    expirable.NewLRU[string, bool](healthCacheSize, nil, opts.HealthCacheTTL),
		maxRetries:     uint(opts.MaxRetries),
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

func (d *MessageDispatcher) RegisterChannel(ctx context.Context, channel MessageChannel, primary, secondary MessengerClient) {
	if secondary != nil {
		log.Ctx(ctx).Infof("[MessageDispatcher] Registering clients %s/%s for channel %s", primary.MessengerType(), secondary.MessengerType(), channel)
	} else {
		log.Ctx(ctx).Infof("[MessageDispatcher] Registering client %s for channel %s", primary.MessengerType(), channel)
	}
	d.clients[channel] = &channelClients{primary: primary, secondary: secondary}
}

func (d *MessageDispatcher) SendMessage(ctx context.Context, message Message, channelPriority []MessageChannel) (DispatchResult, error) {
	if len(channelPriority) == 0 {
		return DispatchResult{}, fmt.Errorf("channel priority cannot be empty")
	}

	supportedChannels := make(map[MessageChannel]bool)
	for _, ch := range message.SupportedChannels() {
		supportedChannels[ch] = true
	}

	if len(supportedChannels) == 0 {
		return DispatchResult{}, fmt.Errorf("no valid channel found for message %s", message)
	}

	var result DispatchResult
	var lastErr error
	for _, channel := range channelPriority {
		if !supportedChannels[channel] {
			log.Ctx(ctx).Debugf("Skipping channel %q since it's not supported for the message %s", channel, message)
			continue
		}

		clients, ok := d.clients[channel]
		if !ok {
			log.Ctx(ctx).Warnf("No clients registered for channel %q", channel)
			continue
		}

		channelResult, err := d.sendWithFailover(ctx, clients, message)
		result.Attempts += channelResult.Attempts
		result.FailedOver = result.FailedOver || channelResult.FailedOver
		if err == nil {
			result.MessengerType = channelResult.MessengerType
			result.ExternalMessageID = channelResult.ExternalMessageID
			return result, nil
		}

		lastErr = err
		log.Ctx(ctx).Errorf("Error sending %s through channel %q: %v", message, channel, err)
	}

	if lastErr != nil {
		return result, fmt.Errorf("unable to send message %s using any of the channels %v: %w", message, channelPriority, lastErr)
	}
	return result, fmt.Errorf("unable to send message %s: no registered channel supports it", message)
}

// sendWithFailover runs the retry loop against the channel's primary and, when
// the primary is exhausted and the failure is provider-level, once more
// against the secondary. A provider recently marked unhealthy is skipped up
// front.
func (d *MessageDispatcher) sendWithFailover(ctx context.Context, clients *channelClients, message Message) (DispatchResult, error) {
	first, second := clients.primary, clients.secondary
	if second != nil && !d.isHealthy(first) && d.isHealthy(second) {
		first, second = second, first
	}

	var result DispatchResult

	sendResult, attempts, err := d.attempt(ctx, first, message)
	result.Attempts += attempts
	if err == nil {
		result.MessengerType = sendResult.MessengerType
		result.ExternalMessageID = sendResult.ExternalMessageID
		return result, nil
	}

	d.markUnhealthy(first)

	if second == nil || !ShouldFailover(err) {
		return result, err
	}

	log.Ctx(ctx).Warnf("Failing over from %s to %s after %d attempts: %v", first.MessengerType(), second.MessengerType(), attempts, err)
	result.FailedOver = true

	sendResult, attempts, err = d.attempt(ctx, second, message)
	result.Attempts += attempts
	if err != nil {
		d.markUnhealthy(second)
		return result, err
	}

	result.MessengerType = sendResult.MessengerType
	result.ExternalMessageID = sendResult.ExternalMessageID
	return result, nil
}

// attempt sends through a single provider with exponential backoff.
// Non-retryable failures abort the loop immediately.
func (d *MessageDispatcher) attempt(ctx context.Context, client MessengerClient, message Message) (SendResult, int, error) {
	var result SendResult
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			sendResult, sendErr := client.SendMessage(ctx, message)
			if sendErr != nil {
				if !IsRetryable(sendErr) {
					return retry.Unrecoverable(sendErr)
				}
				return sendErr
			}
			result = sendResult
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(1+d.maxRetries),
		retry.Delay(d.retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)

	return result, attempts, err
}

func (d *MessageDispatcher) SendBulk(ctx context.Context, channel MessageChannel, messages []Message) ([]BulkSendResult, error) {
	clients, ok := d.clients[channel]
	if !ok {
		return nil, fmt.Errorf("no client registered for channel %q", channel)
	}

	if len(messages) == 0 {
		return nil, nil
	}

	results := make([]BulkSendResult, 0, len(messages))
	for start := 0; start < len(messages); start += MaxBulkBatchSize {
		end := min(start+MaxBulkBatchSize, len(messages))

		batchResults, err := d.sendBulkBatch(ctx, clients, messages[start:end])
		if err != nil {
			return nil, err
		}

		// Re-base the batch-relative indexes onto the full input slice.
		for i := range batchResults {
			batchResults[i].Index += start
		}
		results = append(results, batchResults...)
	}

	return results, nil
}

// sendBulkBatch sends one batch through the primary. When more than half the
// batch fails there, the failed subset is re-sent on the secondary and the
// outcomes merged.
func (d *MessageDispatcher) sendBulkBatch(ctx context.Context, clients *channelClients, batch []Message) ([]BulkSendResult, error) {
	first, second := clients.primary, clients.secondary
	if second != nil && !d.isHealthy(first) && d.isHealthy(second) {
		first, second = second, first
	}

	results, err := first.SendBulk(ctx, batch)
	if err != nil {
		d.markUnhealthy(first)
		if second == nil {
			return nil, fmt.Errorf("bulk send through %s: %w", first.MessengerType(), err)
		}

		log.Ctx(ctx).Warnf("Bulk send through %s failed, retrying the whole batch on %s: %v", first.MessengerType(), second.MessengerType(), err)
		results, err = second.SendBulk(ctx, batch)
		if err != nil {
			d.markUnhealthy(second)
			return nil, fmt.Errorf("bulk send through %s: %w", second.MessengerType(), err)
		}
		return results, nil
	}

	if second == nil {
		return results, nil
	}

	var failedIdx []int
	var failedMessages []Message
	for _, r := range results {
		if r.Err != nil && ShouldFailover(r.Err) {
			failedIdx = append(failedIdx, r.Index)
			failedMessages = append(failedMessages, batch[r.Index])
		}
	}

	if len(failedIdx)*2 <= len(batch) {
		return results, nil
	}

	d.markUnhealthy(first)
	log.Ctx(ctx).Warnf("%d/%d messages failed on %s, re-sending the failed subset on %s", len(failedIdx), len(batch), first.MessengerType(), second.MessengerType())

	retryResults, err := second.SendBulk(ctx, failedMessages)
	if err != nil {
		d.markUnhealthy(second)
		log.Ctx(ctx).Errorf("Bulk re-send through %s failed, keeping primary outcomes: %v", second.MessengerType(), err)
		return results, nil
	}

	resultPos := make(map[int]int, len(results))
	for pos, r := range results {
		resultPos[r.Index] = pos
	}

	for _, retryResult := range retryResults {
		originalIdx := failedIdx[retryResult.Index]
		if retryResult.Err == nil {
			results[resultPos[originalIdx]] = BulkSendResult{Index: originalIdx, Result: retryResult.Result}
		}
	}

	return results, nil
}

func (d *MessageDispatcher) GetClient(channel MessageChannel) (MessengerClient, error) {
	clients, ok := d.clients[channel]
	if !ok {
		return nil, fmt.Errorf("no client registered for channel %q", channel)
	}

	return clients.primary, nil
}

func (d *MessageDispatcher) isHealthy(client MessengerClient) bool {
	healthy, ok := d.healthCache.Get(string(client.MessengerType()))
	return !ok || healthy
}

func (d *MessageDispatcher) markUnhealthy(client MessengerClient) {
	d.healthCache.Add(string(client.MessengerType()), false)
}

var _ MessageDispatcherInterface = (*MessageDispatcher)(nil)
