package llm

import (
	"context"
	"time"

	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
)

// RetryConfig bounds how many times a failed completion is retried and
// the initial exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// retryClient wraps an underlying Client with retry and circuit-breaker
// protection: only UpstreamUnavailable failures are retried, and the
// breaker trips after repeated consecutive failures so a downed provider
// stops burning the generation loop's attempt budget on calls that are
// guaranteed to fail.
type retryClient struct {
	underlying Client
	retry      RetryConfig
	breaker    *cferrors.CircuitBreaker
	logger     logging.Logger
}

// NewRetryClient wraps client with retry logic backed by breaker.
func NewRetryClient(client Client, retry RetryConfig, breaker *cferrors.CircuitBreaker, logger logging.Logger) Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = time.Second
	}
	return &retryClient{
		underlying: client,
		retry:      retry,
		breaker:    breaker,
		logger:     logging.OrNop(logger),
	}
}

func (c *retryClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		var content string
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, callErr := c.underlying.Complete(ctx, systemPrompt, userPrompt)
			content = resp
			return callErr
		})
		if err == nil {
			return content, nil
		}
		lastErr = err

		if !cferrors.Is(err, cferrors.KindUpstreamUnavailable) {
			return "", err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.InitialDelay * time.Duration(1<<uint(attempt-1))
		c.logger.Warn("completion attempt %d/%d failed: %v, retrying in %v", attempt, c.retry.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}
