// Command ollama-gateway starts the multi-tenant Ollama gateway HTTP
// server.
//
// # Environment Variables
//
//   - OLLAMA_BASE_URL: default Ollama daemon endpoint (default: http://localhost:11434)
//   - GATEWAY_PORT: HTTP server port (default: 8080)
//   - GATEWAY_DATA_DIR: Badger data directory (default: in-memory)
//   - GATEWAY_REQUEST_TIMEOUT: blocking-call timeout, e.g. "90s" (default: 180s)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	go build -o ollama-gateway ./cmd/ollama-gateway
//	./ollama-gateway serve --config config.yaml
package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
	"github.com/weam-ai/ollama-gateway/pkg/logging"
	"github.com/weam-ai/ollama-gateway/services/gateway"
)

var (
	configPath string
	logLevel   string
	logDir     string
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ollama-gateway",
	Short: "Multi-tenant gateway in front of Ollama with hosted-provider fallback",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := gateway.LoadConfig(configPath)
		if err != nil {
			return err
		}

		svc, err := gateway.New(cfg, extensions.DefaultOptions())
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				slog.Error("Failed to close gateway cleanly", "error", err)
			}
		}()

		return svc.Run()
	},
}

func init() {
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		logger = logging.Setup(logging.Config{
			Level:   logLevel,
			LogDir:  logDir,
			Service: "ollama-gateway",
			JSON:    true,
		})
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for daily JSON log files (optional)")
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (optional)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	defer func() {
		if logger != nil {
			_ = logger.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
