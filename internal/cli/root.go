// Package cli implements the eventstream command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	loggingpkg "github.com/drblury/eventstream/internal/runtime/logging"
)

type rootOptions struct {
	configPath string
	stream     string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the eventstream command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "eventstream",
		Short: "Publish and consume topic-routed JSON events",
		Long: `eventstream talks to the streams described in a YAML settings file.
The active stream is used unless --stream selects another one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "eventstream.yaml", "Stream settings file")
	root.PersistentFlags().StringVar(&opts.stream, "stream", "", "Stream to use instead of active_stream")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(newValidateCmd(opts), newPublishCmd(opts), newListenCmd(opts))
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) loadConfig() (*configpkg.Config, error) {
	cfg, err := configpkg.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.stream != "" {
		cfg.ActiveStream = o.stream
	}
	return cfg, nil
}

func (o *rootOptions) logger(w io.Writer) (loggingpkg.ServiceLogger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", o.logLevel)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(o.logFormat) {
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}
