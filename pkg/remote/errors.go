package remote

import (
	"errors"
	"fmt"
)

// Causes attached to a RemoteCallError.
const (
	CauseTimeout   = "timeout"
	CauseTransport = "transport"
	CauseStatus    = "status"
	CauseDecode    = "decode"
	CauseRequest   = "request"
)

// ErrBusinessFailure is wrapped by BusinessError.
var ErrBusinessFailure = errors.New("remote operation reported failure")

// RemoteCallError describes a call that failed below the business layer:
// a timeout, a transport error, a non-success status or an unreadable body.
//
//nolint:revive // exported name used in error messages and docs
type RemoteCallError struct {
	Endpoint string // Endpoint path that was called
	Status   int    // HTTP status, zero when no response was received
	Cause    string // One of the Cause constants
	Message  string // Server message, when the error body carried one
	Err      error  // Underlying error
}

func (e *RemoteCallError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("call to %s failed with status %d: %s", e.Endpoint, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("call to %s failed with status %d", e.Endpoint, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("call to %s failed (%s): %v", e.Endpoint, e.Cause, e.Err)
	default:
		return fmt.Sprintf("call to %s failed (%s)", e.Endpoint, e.Cause)
	}
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the call was aborted by its timeout.
func (e *RemoteCallError) IsTimeout() bool {
	return e.Cause == CauseTimeout
}

// BusinessError is a transport-level success whose body carried success:false.
type BusinessError struct {
	Endpoint string
	Message  string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s reported failure", e.Endpoint)
	}

	return fmt.Sprintf("%s reported failure: %s", e.Endpoint, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return ErrBusinessFailure
}

// IsRemoteCallError reports whether err carries a RemoteCallError.
func IsRemoteCallError(err error) bool {
	var target *RemoteCallError

	return errors.As(err, &target)
}

// IsBusinessError reports whether err carries a BusinessError.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrBusinessFailure)
}
