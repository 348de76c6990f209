package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidModelID is returned for empty or malformed identifiers.
	ErrInvalidModelID = errors.New("invalid model id")

	// ErrUnknownModel is returned when the registry does not know the model.
	ErrUnknownModel = errors.New("model not found in registry")

	// ErrRegistryUnreachable is returned on transport failures and 5xx answers.
	ErrRegistryUnreachable = errors.New("model registry unreachable")

	// ErrStorage is returned when the local copy cannot be written.
	ErrStorage = errors.New("model storage failure")
)

// ProvisionError reports a model that could not be made available locally.
type ProvisionError struct {
	ModelID  string
	Artifact string
	Err      error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("failed to provision model %q: %v", e.ModelID, e.Err)
	if e.Artifact != "" {
		msg = fmt.Sprintf("failed to provision model %q (%s): %v", e.ModelID, e.Artifact, e.Err)
	}
	if e.Artifact != "" && errors.Is(e.Err, ErrUnknownModel) {
		msg += fmt.Sprintf("; the repository must publish whisper.cpp ggml weights as %q", e.Artifact)
	}
	return msg
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
