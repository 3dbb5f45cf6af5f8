package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrStreamConnection   = sterrors.New("eventstream: stream connection error")
	ErrNotConnected       = sterrors.New("eventstream: transport is not connected")
	ErrNotImplemented     = sterrors.New("eventstream: operation is not implemented")
	ErrConsumeTimeout     = sterrors.New("eventstream: timed out waiting for consume registration")
	ErrUnknownStream      = sterrors.New("eventstream: unknown stream")
	ErrUnknownTransport   = sterrors.New("eventstream: unknown transport")
	ErrConfigRequired     = sterrors.New("eventstream: configuration is required")
	ErrSubscriberRequired = sterrors.New("eventstream: subscriber is required")
	ErrTopicRequired      = sterrors.New("eventstream: topic is required")
	ErrStreamRequired     = sterrors.New("eventstream: stream is required")
	ErrStreamClosed       = sterrors.New("eventstream: stream is closed")
)

// StreamConnectionError is returned when a transport fails to reach a usable
// state. Stage names the step that failed (dial, channel, qos, exchange).
type StreamConnectionError struct {
	Stage string
	Err   error
}

func (e *StreamConnectionError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("eventstream: connection failed: %v", e.Err)
	}
	return fmt.Sprintf("eventstream: connection failed during %s: %v", e.Stage, e.Err)
}

func (e *StreamConnectionError) Unwrap() error { return e.Err }

func (e *StreamConnectionError) Is(target error) bool { return target == ErrStreamConnection }

// ConsumerError reports a problem registering or running a queue consumer.
type ConsumerError struct {
	Queue string
	Err   error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("eventstream: consumer %q: %v", e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }

func (e *ConsumerError) Is(target error) bool { return target == ErrStreamConnection }

// PublisherError reports a broker-side publish failure.
type PublisherError struct {
	Topic string
	Err   error
}

func (e *PublisherError) Error() string {
	return fmt.Sprintf("eventstream: publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublisherError) Unwrap() error { return e.Err }

func (e *PublisherError) Is(target error) bool { return target == ErrStreamConnection }

// SerializationError is returned by serializers running in non-graceful mode.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("eventstream: %s failed: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "eventstream: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
