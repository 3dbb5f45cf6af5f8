package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/eventstream/internal/runtime"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
	"github.com/drblury/eventstream/internal/runtime/jsoncodec"
)

type publishOptions struct {
	topics []string
	file   string
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish [json]",
		Short: "Publish a JSON value to one or more topics",
		Example: `  eventstream publish --topic orders.created '{"id": 42}'
  echo '{"id": 42}' | eventstream publish --topic orders.created --file -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.topics) == 0 {
				return errspkg.ErrTopicRequired
			}
			raw, err := readPayload(cmd, args, opts.file)
			if err != nil {
				return err
			}
			var data any
			if err := jsoncodec.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}

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
			registry := runtimepkg.NewRegistry()
			stream, err := runtimepkg.InitFromSettings(ctx, registry, cfg, runtimepkg.Dependencies{Logger: logger})
			if err != nil {
				return err
			}
			defer registry.CloseAll(context.WithoutCancel(ctx))

			if !stream.Connected() {
				return fmt.Errorf("stream %q: %w", stream.Name(), errspkg.ErrNotConnected)
			}
			if err := stream.Publish(ctx, data, opts.topics...); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", strings.Join(opts.topics, ", "))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&opts.topics, "topic", "t", nil, "Routing key to publish to (repeatable)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the payload from a file, - for stdin")
	return cmd
}

func readPayload(cmd *cobra.Command, args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, errors.New("pass the payload as an argument or with --file, not both")
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, errors.New("a JSON payload is required")
	}
}
