package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkfable/story-illustrator/internal/llm"
	"github.com/inkfable/story-illustrator/internal/storyboard"
	"github.com/inkfable/story-illustrator/pkg/retry"
)

// ErrNotReady marks operations issued before the session has the inputs
// they need (story text, storyboards). Callers match it with errors.Is.
var ErrNotReady = errors.New("not ready")

// FailureKind buckets generation failures for progress reporting and logs.
type FailureKind int

const (
	FailTransport FailureKind = iota
	FailTimeout
	FailNoImage
	FailMalformed
	FailCancelled
	FailUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailTransport:
		return "Transport"
	case FailTimeout:
		return "Timeout"
	case FailNoImage:
		return "NoImagePayload"
	case FailMalformed:
		return "MalformedBreakdown"
	case FailCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ClassifyFailure maps an error from the generation pipeline onto its
// failure kind.
func ClassifyFailure(err error) FailureKind {
	var transportErr *llm.TransportError
	var timeoutErr *retry.TimeoutError
	var noImage *llm.NoImagePayloadError
	var malformed *storyboard.MalformedBreakdownError

	switch {
	case errors.As(err, &timeoutErr):
		return FailTimeout
	case errors.As(err, &transportErr):
		return FailTransport
	case errors.As(err, &noImage):
		return FailNoImage
	case errors.As(err, &malformed):
		return FailMalformed
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return FailCancelled
	default:
		return FailUnknown
	}
}

// FailureReason renders a one-line diagnostic for an error, prefixed with
// its kind.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %v", ClassifyFailure(err), err)
}

// Advice returns a remediation hint per failure kind, surfaced next to
// failed scenes in the API.
func Advice(kind FailureKind) string {
	switch kind {
	case FailTransport:
		return "Check that the API key is valid, the endpoint is reachable, and the account has quota"
	case FailTimeout:
		return "The model took too long to answer; retry the scene or simplify its prompt"
	case FailNoImage:
		return "The model answered with text instead of an image; retry or adjust the scene description"
	case FailMalformed:
		return "The model's breakdown was not valid JSON; run the breakdown again"
	case FailCancelled:
		return "The run was cancelled before this scene finished"
	default:
		return "Review the error detail and retry the scene"
	}
}
