package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("gateway: not connected")
	ErrClosed            = errors.New("gateway: manager closed")
	ErrMalformedResponse = errors.New("gateway: malformed response")
	ErrWaitTimeout       = errors.New("gateway: wait timeout")
	ErrDuplicateName     = errors.New("gateway: duplicate connection name")
	ErrUnknownConnection = errors.New("gateway: unknown connection")
	ErrAuthMode          = errors.New("gateway: push does not match auth mode")
	ErrInvalidDescriptor = errors.New("gateway: invalid descriptor")
)

// DecodeError reports a response body that is not valid JSON.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gateway: decode response body (%d bytes): %v", len(e.Body), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
