package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoadFailure means a model artifact is missing or structurally
	// invalid. Fatal for that kind until the artifact is corrected.
	ErrModelLoadFailure = errors.New("vision: model load failure")

	// ErrInference means the inference backend faulted or was handed
	// malformed input. The failure is scoped to one analysis; the registry
	// stays usable.
	ErrInference = errors.New("vision: inference failure")
)

// inferenceError tags an inference failure with the model kind that produced
// it, so callers can report which model faulted.
type inferenceError struct {
	kind  Kind
	cause error
}

func (e *inferenceError) Error() string {
	return fmt.Sprintf("inference with %s model: %v", e.kind, e.cause)
}

func (e *inferenceError) Unwrap() error { return ErrInference }

// NewInferenceError wraps cause as an ErrInference for the given kind.
func NewInferenceError(kind Kind, cause error) error {
	return &inferenceError{kind: kind, cause: cause}
}
