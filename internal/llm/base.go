package llm

import (
	"context"
	"time"
)

// retrier holds the linear-backoff retry policy shared by every adapter,
// modeled on the provider package's BaseProvider helper: retry attempt N
// waits retryDelay*N before trying again, bailing out early if isRetryable
// says no or the context is done.
type retrier struct {
	maxRetries int
	retryDelay time.Duration
}

func newRetrier(maxRetries int, retryDelay time.Duration) retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return retrier{maxRetries: maxRetries, retryDelay: retryDelay}
}

func (r retrier) Do(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// rolePrefixedContent formats a tool-result ChatMessage's Data for
// inclusion in a provider's plain-text conversation, since none of these
// adapters use the provider's native function-calling: tool results are
// always folded back in as ordinary user-role text per the spec's prompt
// convention.
func rolePrefixedToolResult(qualifiedToolName string, data []byte) string {
	return "Result for tool '" + qualifiedToolName + "':\n" + string(data)
}
