package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrStreamConnection", ErrStreamConnection, "eventstream: stream connection error"},
		{"ErrNotConnected", ErrNotConnected, "eventstream: transport is not connected"},
		{"ErrNotImplemented", ErrNotImplemented, "eventstream: operation is not implemented"},
		{"ErrConsumeTimeout", ErrConsumeTimeout, "eventstream: timed out waiting for consume registration"},
		{"ErrUnknownStream", ErrUnknownStream, "eventstream: unknown stream"},
		{"ErrUnknownTransport", ErrUnknownTransport, "eventstream: unknown transport"},
		{"ErrConfigRequired", ErrConfigRequired, "eventstream: configuration is required"},
		{"ErrSubscriberRequired", ErrSubscriberRequired, "eventstream: subscriber is required"},
		{"ErrTopicRequired", ErrTopicRequired, "eventstream: topic is required"},
		{"ErrStreamRequired", ErrStreamRequired, "eventstream: stream is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestStreamConnectionError(t *testing.T) {
	inner := errors.New("refused")
	err := &StreamConnectionError{Stage: "dial", Err: inner}

	want := "eventstream: connection failed during dial: refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrStreamConnection) {
		t.Error("expected errors.Is to match ErrStreamConnection")
	}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to match wrapped error")
	}

	noStage := &StreamConnectionError{Err: inner}
	if got := noStage.Error(); got != "eventstream: connection failed: refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConsumerAndPublisherErrorsAreConnectionErrors(t *testing.T) {
	consumer := error(&ConsumerError{Queue: "billing", Err: errors.New("already consumed")})
	publisher := error(&PublisherError{Topic: "orders.created", Err: errors.New("channel closed")})

	for _, err := range []error{consumer, publisher} {
		if !errors.Is(err, ErrStreamConnection) {
			t.Errorf("%T should match ErrStreamConnection", err)
		}
	}

	var ce *ConsumerError
	if !errors.As(consumer, &ce) || ce.Queue != "billing" {
		t.Fatalf("expected ConsumerError for billing, got %v", consumer)
	}
	if got := consumer.Error(); got != `eventstream: consumer "billing": already consumed` {
		t.Errorf("unexpected message %q", got)
	}
}

func TestConsumerErrorWrapsTimeout(t *testing.T) {
	err := &ConsumerError{Queue: "q", Err: ErrConsumeTimeout}
	if !errors.Is(err, ErrConsumeTimeout) {
		t.Error("expected timeout sentinel to be reachable")
	}
}

func TestSerializationError(t *testing.T) {
	inner := errors.New("bad json")
	err := &SerializationError{Op: "deserialize", Err: inner}
	if got := err.Error(); got != "eventstream: deserialize failed: bad json" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("expected unwrap to reach inner error")
	}
	if errors.Is(err, ErrStreamConnection) {
		t.Error("serialization errors are not connection errors")
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "eventstream: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
