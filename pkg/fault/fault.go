// Package fault defines the error taxonomy shared across the Fabelwerk
// generation pipeline.
//
// Callers classify failures with errors.Is against the exported sentinels;
// the concrete wrapped error carries the human-readable detail. The taxonomy
// deliberately stays small: every failure in the pipeline is either a missing
// credential, a collaborator that answered badly, a reference to state that
// does not exist, or invalid caller input.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates a missing or unusable credential or setting.
	// Requests failing with it are not retried; the deployment is broken.
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstream indicates an external collaborator (LLM, TTS, image API)
	// returned a non-success response. The upstream message is embedded in
	// the wrapping error.
	ErrUpstream = errors.New("upstream error")

	// ErrNotFound indicates an operation referenced an id with no matching state.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates required caller input was missing or malformed.
	ErrValidation = errors.New("validation error")
)

// Configurationf returns an error wrapping [ErrConfiguration] with a
// formatted detail message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Upstreamf returns an error wrapping [ErrUpstream] with a formatted detail
// message, typically including the collaborator name and response body.
func Upstreamf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstream, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping [ErrNotFound].
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf returns an error wrapping [ErrValidation].
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
