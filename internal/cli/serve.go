package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clinrag/internal/logging"
	"clinrag/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /diagnose over HTTP",
	Long: `Load the artifact and the ranking client, then serve:

  POST /diagnose  {"symptoms": "...", "top_k": 3}
  GET  /healthz   liveness
  GET  /readyz    200 once the artifact is loaded
  GET  /info      artifact metadata

Startup fails if the artifact is missing, corrupt, or does not match its
encoder, or if the ranking API key is not set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	// services log JSON unless the format was chosen explicitly
	if logFormat == "" {
		l, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: "json"})
		if err != nil {
			return err
		}
		logger = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadPipeline(ctx, "")
	if err != nil {
		return err
	}
	uc, err := newDiagnoseUseCase(p)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	return server.New(uc, p, logger, server.WithDefaultTopK(cfg.Ranker.DefaultTopK)).Run(ctx, addr, cfg.Server.ShutdownTimeout)
}
