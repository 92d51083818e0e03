// Package llm defines the single-call model transport used by the
// classification pipeline and its provider implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sells-group/voc-classifier/internal/model"
)

// Request is one prompt sent to a model.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Completion is the model's text answer plus token accounting.
type Completion struct {
	Text  string
	Model string
	Usage model.Usage
}

// Completer sends one prompt and returns the raw completion text.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindTransport     ErrorKind = "transport"
	KindEmptyResponse ErrorKind = "empty_response"
)

// ModelCallError reports a failed model call.
type ModelCallError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ModelCallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llm: %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("llm: %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *ModelCallError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindTransport
}

func emptyResponse(provider string) *ModelCallError {
	return &ModelCallError{Kind: KindEmptyResponse, Provider: provider}
}

// callError wraps a transport failure, distinguishing deadline expiry.
func callError(provider string, err error) *ModelCallError {
	var mce *ModelCallError
	if errors.As(err, &mce) {
		return mce
	}

	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &ModelCallError{Kind: kind, Provider: provider, Err: err}
}

// withTimeout applies the per-request timeout, if any.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
