package upload

import (
	"fmt"
)

// ValidationError reports metadata rejected before any network call was made.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid upload input (%s): %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid upload input: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NetworkError reports a transport-level failure while talking to a collaborator.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %s", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError reports a non-success response carrying the shared error envelope.
type ServerError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: server responded with HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: server error: %s", e.Operation, e.Message)
}

// CancellationError reports a caller-initiated abort of the attempt.
type CancellationError struct {
	// Stage is the state the attempt was in when the cancellation was observed.
	Stage State
	// ChunkIndex identifies the chunk in flight at cancellation time, 0 when none.
	ChunkIndex int
}

func (e *CancellationError) Error() string {
	if e.ChunkIndex > 0 {
		return fmt.Sprintf("upload cancelled while %s (chunk %d)", e.Stage, e.ChunkIndex)
	}
	return fmt.Sprintf("upload cancelled while %s", e.Stage)
}

// ConcurrentUploadError reports Start being called while an attempt is active.
type ConcurrentUploadError struct {
	State State
}

func (e *ConcurrentUploadError) Error() string {
	return fmt.Sprintf("an upload attempt is already active (state: %s)", e.State)
}

// ChunkTransportError reports an unrecoverable failure while sending one chunk.
// It is terminal for the attempt: no further chunks are sent.
type ChunkTransportError struct {
	Index int
	Err   error
}

func (e *ChunkTransportError) Error() string {
	return fmt.Sprintf("chunk %d transfer failed: %s", e.Index, e.Err)
}

func (e *ChunkTransportError) Unwrap() error {
	return e.Err
}
