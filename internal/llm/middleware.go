package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/voc-classifier/internal/resilience"
)

// Limited throttles calls to the wrapped Completer.
type Limited struct {
	next    Completer
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with the given burst.
func NewLimited(next Completer, rps float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for a token, then delegates.
func (l *Limited) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, callError("limiter", eris.Wrap(err, "rate limit wait"))
	}
	return l.next.Complete(ctx, req)
}

// Retrying re-issues calls that failed with a timeout or transport error.
// Empty responses are returned immediately.
type Retrying struct {
	next Completer
	cfg  resilience.RetryConfig
}

// NewRetrying wraps next. cfg.ShouldRetry and cfg.OnRetry are replaced.
func NewRetrying(next Completer, cfg resilience.RetryConfig) *Retrying {
	cfg.ShouldRetry = retryable
	cfg.OnRetry = resilience.RetryLogger("llm", "complete")
	return &Retrying{next: next, cfg: cfg}
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, req Request) (*Completion, error) {
	return resilience.DoVal(ctx, r.cfg, func(ctx context.Context) (*Completion, error) {
		return r.next.Complete(ctx, req)
	})
}

func retryable(err error) bool {
	var mce *ModelCallError
	return errors.As(err, &mce) && mce.Retryable()
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Breaker stops calling a failing provider after consecutive transport
// failures. Empty answers do not count: the provider is up.
type Breaker struct {
	next Completer
	cb   *resilience.CircuitBreaker
}

// NewBreaker wraps next. cfg.ShouldTrip is replaced and cfg.OnStateChange
// defaults to a logger.
func NewBreaker(next Completer, cfg resilience.CircuitBreakerConfig) *Breaker {
	cfg.ShouldTrip = retryable
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = resilience.StateLogger("llm")
	}
	return &Breaker{next: next, cb: resilience.NewCircuitBreaker(cfg)}
}

// Complete implements Completer. Rejected calls fail with a transport
// ModelCallError wrapping ErrCircuitOpen.
func (b *Breaker) Complete(ctx context.Context, req Request) (*Completion, error) {
	c, err := resilience.ExecuteVal(ctx, b.cb, func(ctx context.Context) (*Completion, error) {
		return b.next.Complete(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &ModelCallError{Kind: KindTransport, Provider: "breaker", Err: err}
	}
	return c, err
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == resilience.CircuitOpen
}
