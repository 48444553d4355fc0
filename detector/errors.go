// Package detector configures a single-shot object detector and turns its raw
// predictions into per-image detections in original-image pixels.
package detector

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMissingKey marks a required configuration key that was not supplied.
var ErrMissingKey = errors.New("not specified")

// ConfigurationError reports a startup failure: a missing or invalid
// parameter, an unresolvable package, an unknown builder, or a model that
// could not be built or loaded.
type ConfigurationError struct {
	// Key is the parameter the failure is attributed to.
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("detector configuration %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(key string, err error) error {
	return &ConfigurationError{Key: key, Err: err}
}

// InferenceError reports a failed Detect call. No partial result accompanies it.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("detector inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func inferenceErrf(format string, args ...any) error {
	return &InferenceError{Err: errors.Errorf(format, args...)}
}
