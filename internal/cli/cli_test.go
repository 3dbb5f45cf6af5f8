package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/eventstream/internal/runtime/config"
	errspkg "github.com/drblury/eventstream/internal/runtime/errors"
)

const settings = `
active_stream: local
streams:
  local:
    transport: channel
    exchange_name: video_bus
  broker:
    transport: nats
    nats_url: ${EVENTSTREAM_TEST_NATS_URL}
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestValidate(t *testing.T) {
	t.Setenv("EVENTSTREAM_TEST_NATS_URL", "nats://localhost:4222")
	path := writeSettings(t, settings)

	out, err := run(t, context.Background(), "", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 stream(s) configured")
	assert.Contains(t, out, "active: local")
}

func TestValidateFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := run(t, context.Background(), "", "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, configpkg.ErrFileNotFound)
	})

	t.Run("nats stream without url", func(t *testing.T) {
		t.Setenv("EVENTSTREAM_TEST_NATS_URL", "")
		_, err := run(t, context.Background(), "", "validate", "--config", writeSettings(t, settings))
		var validationErr errspkg.ConfigValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, err.Error(), "streams.broker")
	})

	t.Run("unknown stream", func(t *testing.T) {
		t.Setenv("EVENTSTREAM_TEST_NATS_URL", "nats://localhost:4222")
		_, err := run(t, context.Background(), "", "validate", "--config", writeSettings(t, settings), "--stream", "kafka")
		assert.Error(t, err)
	})

	t.Run("unregistered transport", func(t *testing.T) {
		path := writeSettings(t, "active_stream: odd\nstreams:\n  odd:\n    transport: carrier-pigeon\n")
		_, err := run(t, context.Background(), "", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier-pigeon")
	})
}

func TestPublish(t *testing.T) {
	path := writeSettings(t, settings)

	out, err := run(t, context.Background(), "", "publish", "--config", path, "-t", "orders.created", "-t", "audit.orders", `{"id": 42}`)
	require.NoError(t, err)
	assert.Equal(t, "published to orders.created, audit.orders\n", out)

	out, err = run(t, context.Background(), `{"id": 43}`, "publish", "--config", path, "-t", "orders.created", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "orders.created")
}

func TestPublishFailures(t *testing.T) {
	path := writeSettings(t, settings)

	_, err := run(t, context.Background(), "", "publish", "--config", path, `{"id": 1}`)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)

	_, err = run(t, context.Background(), "", "publish", "--config", path, "-t", "orders.created", `{not json`)
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = run(t, context.Background(), "", "publish", "--config", path, "-t", "orders.created", "--file", "-", `{}`)
	assert.ErrorContains(t, err, "not both")

	_, err = run(t, context.Background(), "", "publish", "--config", path, "-t", "orders.created")
	assert.ErrorContains(t, err, "payload is required")

	_, err = run(t, context.Background(), "", "publish", "--config", path, "--log-format", "xml", "-t", "orders.created", `{}`)
	assert.ErrorContains(t, err, "--log-format")
}

func TestListenStopsWithContext(t *testing.T) {
	path := writeSettings(t, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := run(t, ctx, "", "listen", "--config", path, "--queue", "audit", "-t", "orders.*", "--log-format", "json")
	assert.NoError(t, err)
}

func TestListenRequiresTopic(t *testing.T) {
	_, err := run(t, context.Background(), "", "listen", "--config", writeSettings(t, settings))
	assert.ErrorContains(t, err, "topic")
}

func TestLinePrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &linePrinter{w: &buf}

	require.NoError(t, p.print("audit")(context.Background(), map[string]any{"id": 1}, "orders.created"))
	assert.JSONEq(t, `{"queue":"audit","topic":"orders.created","data":{"id":1}}`, strings.TrimSpace(buf.String()))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestLoggerLevels(t *testing.T) {
	opts := &rootOptions{logLevel: "debug", logFormat: "json"}
	logger, err := opts.logger(&bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	opts.logLevel = "loud"
	_, err = opts.logger(&bytes.Buffer{})
	assert.ErrorContains(t, err, "--log-level")
}

func TestTopicFlagsKeepCommas(t *testing.T) {
	patterns := []string{"orders.[a,b]*", "orders.{created,paid}"}

	listen := newListenCmd(&rootOptions{})
	require.NoError(t, listen.ParseFlags([]string{"-t", patterns[0], "--topic", patterns[1]}))
	got, err := listen.Flags().GetStringArray("topic")
	require.NoError(t, err)
	assert.Equal(t, patterns, got)

	publish := newPublishCmd(&rootOptions{})
	require.NoError(t, publish.ParseFlags([]string{"-t", patterns[0], "--topic", patterns[1]}))
	got, err = publish.Flags().GetStringArray("topic")
	require.NoError(t, err)
	assert.Equal(t, patterns, got)

	out, err := run(t, context.Background(), "", "publish", "--config", writeSettings(t, settings), "-t", "orders.a,b", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "published to orders.a,b\n", out)
}
