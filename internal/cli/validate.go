package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/eventstream/transport"
	"github.com/drblury/eventstream/transport/transports"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file and print the active stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			name, stream, err := cfg.Active()
			if err != nil {
				return err
			}
			registry := transports.NewRegistry()
			if kind := stream.GetTransport(); !registry.Has(transport.ParseKind(kind)) {
				return fmt.Errorf("stream %q: unknown transport %q (registered: %v)", name, kind, registry.Names())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %d stream(s) configured\n", len(cfg.Streams))
			fmt.Fprintf(out, "active: %s %s\n", name, stream)
			return nil
		},
	}
}
