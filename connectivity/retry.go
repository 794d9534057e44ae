package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// routeConfig is parsed from the route config JSON.
type routeConfig struct {
	TimeoutMs        int64 `json:"timeout_ms"`
	MaxRetries       int   `json:"max_retries"`
	BackoffMs        int64 `json:"backoff_ms"`
	BreakerThreshold int   `json:"breaker_threshold"`
	BreakerResetMs   int64 `json:"breaker_reset_ms"`
	FallbackLocal    bool  `json:"fallback_local"`
}

func parseRouteConfig(cfg json.RawMessage) routeConfig {
	var rc routeConfig
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &rc)
	}
	return rc
}

// wrapRouteConfig applies the resilience policy from a route's config JSON
// to a freshly built handler. The circuit breaker sits closest to the
// transport, retries wrap it, and the timeout wraps the retries, so
// timeout_ms bounds the whole call including backoff waits. fallback_local
// goes outermost: when the remote path is exhausted the call lands on the
// in-process handler, if one is registered. Routes without those fields get
// the bare handler back.
func wrapRouteConfig(service string, h Handler, cfg json.RawMessage, local Handler, logger *slog.Logger) Handler {
	rc := parseRouteConfig(cfg)
	if rc.BreakerThreshold > 0 {
		opts := []BreakerOption{WithBreakerThreshold(rc.BreakerThreshold)}
		if rc.BreakerResetMs > 0 {
			opts = append(opts, WithBreakerResetTimeout(time.Duration(rc.BreakerResetMs)*time.Millisecond))
		}
		h = WithCircuitBreaker(NewCircuitBreaker(opts...), service)(h)
	}
	if rc.MaxRetries > 0 {
		backoff := 100 * time.Millisecond
		if rc.BackoffMs > 0 {
			backoff = time.Duration(rc.BackoffMs) * time.Millisecond
		}
		h = WithRetry(rc.MaxRetries, backoff, logger)(h)
	}
	if rc.TimeoutMs > 0 {
		h = Timeout(time.Duration(rc.TimeoutMs) * time.Millisecond)(h)
	}
	if rc.FallbackLocal && local != nil {
		h = WithFallback(local, service, logger)(h)
	}
	return h
}

// WithRetry returns a HandlerMiddleware that retries failed calls with
// exponential backoff. It respects context cancellation between retries.
//
// Parameters:
//   - maxRetries: maximum number of retry attempts (0 = no retry)
//   - baseBackoff: initial wait between retries, doubled each attempt
//   - logger: used to log retry attempts (may be nil for silent retries)
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				// Don't retry if context is done.
				if ctx.Err() != nil {
					return nil, lastErr
				}

				// Don't retry on circuit open — it won't help.
				if _, ok := err.(*ErrCircuitOpen); ok {
					return nil, err
				}

				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying call",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}
