package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// maxErrorBody bounds how much of a non-2xx body is kept for diagnostics.
const maxErrorBody = 1024

var (
	ErrMissingCredential = errors.New("no api key configured")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrTimeout           = errors.New("request timed out")
	ErrDecode            = errors.New("response could not be read")
	ErrCancelled         = errors.New("request cancelled")
)

// TransportError reports a failed exchange with the endpoint. StatusCode is
// zero when no response arrived at all.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify maps context and network failures onto ErrCancelled and
// ErrTimeout. It returns nil when err is neither.
func classify(parent, reqCtx context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	if errors.Is(parent.Err(), context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return nil
}
