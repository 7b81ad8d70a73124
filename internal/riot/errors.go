package riot

import (
	"errors"
	"fmt"
)

// RetryableError marks a failure worth retrying on a later cycle: timeouts,
// 5xx responses, and quota exhaustion. The poller leaves the player cursor
// untouched when it sees one.
type RetryableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: retryable status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: retryable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying will not fix: client errors other
// than 429, and payloads that do not match the expected schema. ArtifactPath
// points at the saved raw payload when one was captured.
type PermanentError struct {
	Op           string
	StatusCode   int
	ArtifactPath string
	Err          error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: permanent status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a RetryableError anywhere in its chain.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanent reports whether err is a PermanentError anywhere in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
