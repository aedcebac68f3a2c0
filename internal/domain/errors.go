package domain

import "errors"

// Error kinds. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrInput marks malformed records or requests.
	ErrInput = errors.New("invalid input")

	ErrArtifactNotFound     = errors.New("artifact not found")
	ErrArtifactCorrupt      = errors.New("artifact corrupt")
	ErrArtifactInconsistent = errors.New("artifact inconsistent")

	// ErrEncoderMismatch means the encoder described by an artifact could not
	// be constructed, or it produces vectors of a different dimension.
	ErrEncoderMismatch = errors.New("encoder mismatch")

	// ErrEncoderUnavailable is fatal during build and retryable while serving.
	ErrEncoderUnavailable = errors.New("encoder unavailable")

	ErrCollaborator = errors.New("ranking collaborator failed")

	// ErrTimeout is returned when an external call exceeds its deadline.
	// It is retryable and is never folded into an empty success.
	ErrTimeout = errors.New("timeout")
)
