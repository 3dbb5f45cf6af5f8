package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

// ShutdownTimeout bounds how long a Worker waits for extensions and the
// stream to close after its context ends.
var ShutdownTimeout = 10 * time.Second

// Extension adds behaviour to a Worker around the stream's lifetime.
type Extension interface {
	Init(ctx context.Context, stream *Stream) error
	Shutdown(ctx context.Context) error
}

// Worker connects the active stream, consumes a queue per subscriber and
// runs until its context is cancelled.
type Worker struct {
	Config       *configpkg.Config
	Registry     *Registry
	Dependencies Dependencies
	Subscribers  []transport.Subscriber
	Extensions   []Extension
}

// Run blocks until ctx is done or startup fails.
func (w *Worker) Run(ctx context.Context) error {
	if w.Config == nil {
		return errspkg.ErrConfigRequired
	}
	logger := w.Dependencies.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	if w.Registry == nil {
		w.Registry = NewRegistry()
	}

	stream, err := InitFromSettings(ctx, w.Registry, w.Config, w.Dependencies)
	if err != nil {
		return err
	}

	started := 0
	for _, ext := range w.Extensions {
		if err := ext.Init(ctx, stream); err != nil {
			return errors.Join(fmt.Errorf("init extension: %w", err), w.shutdown(ctx, stream, started))
		}
		started++
	}

	for _, sub := range w.Subscribers {
		if err := stream.Dequeue(ctx, sub); err != nil {
			return errors.Join(fmt.Errorf("dequeue %q: %w", sub.Name(), err), w.shutdown(ctx, stream, started))
		}
	}

	logger.Info("Worker running", loggingpkg.LogFields{"stream": stream.Name(), "subscribers": len(w.Subscribers)})
	<-ctx.Done()
	logger.Info("Worker stopping", loggingpkg.LogFields{"stream": stream.Name()})

	return w.shutdown(ctx, stream, started)
}

// shutdown stops the first started extensions in reverse order, then closes
// the stream.
func (w *Worker) shutdown(ctx context.Context, stream *Stream, started int) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := started - 1; i >= 0; i-- {
		if err := w.Extensions[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown extension: %w", err))
		}
	}
	if err := stream.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
