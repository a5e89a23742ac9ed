package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/config"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// ErrDisabled is returned by New when the selected provider has no credentials.
var ErrDisabled = errors.New("model provider not configured")

// Request is one model call: the full conversation, the system instruction
// and an optional retrieval restriction.
type Request struct {
	Messages     []chat.Message
	Instructions string
	Retrieval    *RetrievalTool
}

// Client streams a model answer. Each chunk carries a piece of text in
// Content; the reader ends with io.EOF or a provider error. Callers must
// close the reader.
type Client interface {
	Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error)
}

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig, log *logging.Logger) (Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderArk, config.ProviderOpenAI:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		c, err := NewChainClient(ctx, chatModel, cfg.OpenRetries, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsedTime  = 30 * time.Second
)

// newRetryBackoff bounds how long opening a stream may be retried.
func newRetryBackoff(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// openWithRetry calls open until it succeeds or the policy gives up.
// Only failures before the first chunk are retried.
func openWithRetry[T any](policy backoff.BackOff, log *logging.Logger, open func() (T, error)) (T, error) {
	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		result, err = open()
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("model stream open failed, retrying")
	})
	return result, err
}
