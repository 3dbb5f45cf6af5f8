package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/eventstream/internal/runtime"
	"github.com/drblury/eventstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
	"github.com/drblury/eventstream/transport"
)

type listenOptions struct {
	queue  string
	topics []string
}

// event is one line of listen output.
type event struct {
	Queue string `json:"queue"`
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

func newListenCmd(root *rootOptions) *cobra.Command {
	opts := &listenOptions{}

	cmd := &cobra.Command{
		Use:     "listen",
		Short:   "Consume a queue and print each message as a JSON line",
		Example: `  eventstream listen --queue audit --topic 'orders.*' --topic 'payments.*'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics := runtimepkg.NewMetrics(nil)
			printer := &linePrinter{w: cmd.OutOrStdout()}
			worker := &runtimepkg.Worker{
				Config: cfg,
				Dependencies: runtimepkg.Dependencies{
					Logger:  logger,
					Metrics: metrics,
					Hooks:   runtimepkg.LoggingHooks(logger),
				},
				Subscribers: []transport.Subscriber{
					transport.NewSubscriber(opts.queue, opts.topics, printer.print(opts.queue)),
				},
			}
			if err := worker.Run(ctx); err != nil {
				return err
			}

			for name, stats := range metrics.Snapshot().Streams {
				logger.Info("Listener summary", loggingpkg.LogFields{
					"stream":            name,
					"delivered":         stats.Delivered,
					"delivery_failures": stats.DeliveryFailures,
				})
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.queue, "queue", "q", "eventstream-cli", "Queue to consume")
	cmd.Flags().StringArrayVarP(&opts.topics, "topic", "t", nil, "Topic pattern to bind (repeatable)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) print(queue string) transport.HandlerFunc {
	return func(_ context.Context, data any, topic string) error {
		line, err := jsoncodec.Marshal(event{Queue: queue, Topic: topic, Data: data})
		if err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		_, err = p.w.Write(append(line, '\n'))
		return err
	}
}
