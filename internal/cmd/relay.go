package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/3leaps/lambdaops/internal/observability"
	"github.com/3leaps/lambdaops/internal/server"
	"github.com/3leaps/lambdaops/internal/server/handlers"
	"github.com/3leaps/lambdaops/pkg/relay"
)

var (
	relayEventFile string
	relayURL       string
	serveHost      string
	servePort      int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the HTTP relay handler locally",
	Long: `Run the HTTP relay function handler outside the function runtime.

The handler fetches a URL (taken from the event, or the configured default)
and answers with a {statusCode, body} envelope, exactly as the deployed
function does.`,
}

var relayInvokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke the handler once and print the response envelope",
	Long: `Invoke the relay handler once and print the response envelope as JSON.

The event is read from --event (a JSON file, "-" for stdin); --url sets the
event's url field. Without either, the configured default URL is fetched.

Examples:
  lambdaops relay invoke
  lambdaops relay invoke --url https://example.com/api
  lambdaops relay invoke --event test-event.json`,
	Args: cobra.NoArgs,
	RunE: runRelayInvoke,
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the handler over HTTP",
	Long: `Serve the relay handler over HTTP.

Routes:
  POST /invoke          event JSON in, response envelope out
  GET  /health          health with dependency checks
  GET  /health/live     liveness
  GET  /health/ready    readiness
  GET  /health/startup  startup
  GET  /version         build info
  GET  /metrics         Prometheus metrics (when metrics.enabled)

Examples:
  lambdaops relay serve
  lambdaops relay serve --port 9000
  curl -s -XPOST localhost:8080/invoke -d '{"url":"https://example.com"}'`,
	Args: cobra.NoArgs,
	RunE: runRelayServe,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayInvokeCmd)
	relayCmd.AddCommand(relayServeCmd)

	relayInvokeCmd.Flags().StringVar(&relayEventFile, "event", "", "Event JSON file (- for stdin)")
	relayInvokeCmd.Flags().StringVar(&relayURL, "url", "", "URL to fetch (sets the event's url field)")

	relayServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	relayServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
}

func runRelayInvoke(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := appConfig(ctx)
	if err != nil {
		return exitError(ExitFailure, "Failed to load configuration", err)
	}

	event, err := readEvent(cmd, relayEventFile)
	if err != nil {
		return exitError(ExitFailure, "Invalid --event", err)
	}
	if cmd.Flags().Changed("url") {
		event["url"] = relayURL
	}

	resp, err := relay.FromConfig(cfg.Relay, observability.CLILogger).Handle(ctx, event)
	if err != nil {
		return exitError(ExitFailure, "Invocation failed", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return exitError(ExitFailure, "Failed to write response", err)
	}

	if resp.StatusCode >= 400 {
		return exitError(ExitFailure, "Invocation failed", fmt.Errorf("status code %d", resp.StatusCode))
	}
	return nil
}

// readEvent loads an event from path ("-" reads the command's stdin).
// An empty path yields an empty event.
func readEvent(cmd *cobra.Command, path string) (relay.Event, error) {
	if path == "" {
		return relay.Event{}, nil
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}

	var event relay.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("event must be a JSON object: %w", err)
	}
	if event == nil {
		event = relay.Event{}
	}
	return event, nil
}

func runRelayServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := appConfig(ctx)
	if err != nil {
		return exitError(ExitFailure, "Failed to load configuration", err)
	}

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		if servePort < 0 || servePort > 65535 {
			return exitError(ExitFailure, "Invalid --port value", errors.New("port must be between 0 and 65535"))
		}
		port = servePort
	}

	logger := observability.CLILogger
	rl := relay.FromConfig(cfg.Relay, logger)
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("relay", rl)

	srv := server.New(host, port,
		server.WithInvoker(rl),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithMetrics(cfg.Metrics.Enabled),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return exitError(ExitFailure, "Relay server failed", err)
	}
	return nil
}
