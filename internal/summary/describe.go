package summary

import (
	"errors"
	"fmt"

	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/prompts"
)

// Describe turns a summarization failure into the status text shown to the
// user.
func Describe(msgs prompts.Messages, err error) string {
	var transportErr *llm.TransportError

	switch {
	case errors.Is(err, ErrDisabled):
		return msgs.FeaturesDisabled
	case errors.Is(err, llm.ErrMissingCredential):
		return msgs.MissingCredential
	case errors.Is(err, llm.ErrInvalidEndpoint):
		return msgs.InvalidEndpoint
	case errors.Is(err, llm.ErrTimeout):
		return msgs.Timeout
	case errors.As(err, &transportErr) && transportErr.StatusCode != 0:
		return fmt.Sprintf(msgs.TransportFailure, transportErr.StatusCode)
	case errors.Is(err, llm.ErrDecode):
		return msgs.DecodeFailure
	default:
		return msgs.ErrorPrefix + " " + err.Error()
	}
}
