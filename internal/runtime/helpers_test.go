package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"

	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type publishCall struct {
	data  any
	topic string
}

// fakeTransport is a scriptable transport.Transport.
type fakeTransport struct {
	mu sync.Mutex

	connected  bool
	connecting bool
	// connectErrs are returned by successive Connect calls; once exhausted
	// Connect succeeds.
	connectErrs  []error
	connectCalls int
	closeCalls   int

	publishErrs map[string]error
	published   []publishCall

	consumed   []transport.Subscriber
	consumeErr error
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connected {
		return nil
	}
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Connecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connecting
}

func (f *fakeTransport) Publish(_ context.Context, data any, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.publishErrs[topic]; err != nil {
		return err
	}
	f.published = append(f.published, publishCall{data: data, topic: topic})
	return nil
}

func (f *fakeTransport) ConsumeQueue(_ context.Context, sub transport.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, sub)
	return nil
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeTransport) calls() (connects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.closeCalls
}

func connectionRefused() error {
	return &errspkg.StreamConnectionError{Stage: "dial", Err: io.ErrUnexpectedEOF}
}
