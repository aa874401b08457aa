package client

import (
	"errors"
	"fmt"

	"chat-core/internal/protocol"
)

var (
	ErrTimeout      = errors.New("request timed out")
	ErrDisconnected = errors.New("session disconnected")
	ErrUnauthorized = errors.New("session token rejected")
	ErrRejected     = errors.New("command rejected")
)

// RejectedError is returned when the server acknowledges a command with a
// non-ok status. It matches ErrRejected.
type RejectedError struct {
	Command string
	Status  protocol.Status
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: %s", e.Command, e.Status)
	}
	return fmt.Sprintf("%s rejected: %s: %s", e.Command, e.Status, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// StatusOf returns the ack status carried by err, or empty when err is not a
// rejection.
func StatusOf(err error) protocol.Status {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Status
	}
	return ""
}
