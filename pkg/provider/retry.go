package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"quorum/pkg/logx"
)

// RetryConfig defines retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// DefaultRetryConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// shouldRetry reports whether the error warrants another attempt. Only
// classified retryable types qualify; context cancellation never does.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pe := AsError(err); pe != nil {
		return pe.Type.Retryable()
	}
	return classify(err).Retryable()
}

// calculateDelay computes exponential backoff for an attempt, 1-based.
func (rc RetryConfig) calculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt-2)))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter && delay > 0 {
		jitterFactor := 2*time.Now().UnixNano()%2 - 1 // -1 or 1
		jitter := time.Duration(float64(delay) * 0.1 * float64(jitterFactor))
		delay += jitter
		if delay < 0 {
			delay = rc.InitialDelay
		}
	}
	return delay
}

// retryingChat wraps a ChatClient with retry-on-transient behavior.
type retryingChat struct {
	next   ChatClient
	config RetryConfig
	logger *logx.Logger
}

// WithRetry wraps a chat client so retryable failures are retried with
// exponential backoff. Non-retryable errors pass through on the first
// attempt.
func WithRetry(next ChatClient, config RetryConfig) ChatClient {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig
	}
	return &retryingChat{next: next, config: config, logger: logx.NewLogger("retry")}
}

func (r *retryingChat) Name() string { return r.next.Name() }

func (r *retryingChat) Chat(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.config.calculateDelay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return Completion{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
			r.logger.Debug("retrying %s chat, attempt %d/%d", r.next.Name(), attempt, r.config.MaxAttempts)
		}

		resp, err := r.next.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
	}
	return Completion{}, lastErr
}

// retryingEmbed wraps an EmbeddingClient with the same retry behavior.
type retryingEmbed struct {
	next   EmbeddingClient
	config RetryConfig
	logger *logx.Logger
}

// WithEmbedRetry wraps an embedding client with retry-on-transient
// behavior.
func WithEmbedRetry(next EmbeddingClient, config RetryConfig) EmbeddingClient {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig
	}
	return &retryingEmbed{next: next, config: config, logger: logx.NewLogger("retry")}
}

func (r *retryingEmbed) Name() string { return r.next.Name() }

func (r *retryingEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.config.calculateDelay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
			r.logger.Debug("retrying %s embed, attempt %d/%d", r.next.Name(), attempt, r.config.MaxAttempts)
		}

		vectors, err := r.next.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !shouldRetry(err) {
			break
		}
	}
	return nil, lastErr
}
