package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// JSON API over a fresh in-memory index.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var sources sourceFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API",
		Long: `Start the docqa HTTP server.

The index starts empty unless --file/--dir/--url are given; documents are
added and questions answered through the JSON API under /api. Prometheus
metrics are served on /metrics.

Set DOCQA_API_KEY to require "Authorization: Bearer <key>" on /api routes.

Examples:
  docqa serve
  docqa serve --port 9090 --dir ./docs
  MODEL_PROVIDER=openai EMBEDDING_PROVIDER=openai docqa serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if v := os.Getenv("DOCQA_PORT"); v != "" {
					p, err := strconv.Atoi(v)
					if err != nil {
						return fmt.Errorf("serve: DOCQA_PORT=%q is not a port number", v)
					}
					port = p
				}
			}

			log.Info("serve starting",
				slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")),
				slog.String("embedding_provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))),
			)

			a, err := buildApp(ctx, log, appOptions{registry: prometheus.DefaultRegisterer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if !sources.empty() {
				if _, _, err := indexSources(ctx, a, &sources, log); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			srv, err := server.New(a.engine, a.runner, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewEmbedderPinger(a.engine.Ping),
					server.NewBreakerPinger("generator", a.engine.BreakerState),
				},
				APIKey:              os.Getenv("DOCQA_API_KEY"),
				BatchMaxParallelism: a.settings.BatchMaxParallelism,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	sources.register(cmd)

	return cmd
}
