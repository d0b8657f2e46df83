package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/greenhouse-network/sentinel/internal/greenhouse"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a TOML config file (defaults applied if absent)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "HTTP host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveConfigPath string
	serveHost       string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the greenhouse runtime: twin, bus, agents, bridge, and HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := greenhouse.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.HTTP.Host = serveHost
	}
	if servePort > 0 {
		cfg.HTTP.Port = servePort
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rt, err := greenhouse.New(cfg, log)
	if err != nil {
		return fmt.Errorf("greenhouse: construct runtime: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("greenhouse: start runtime: %w", err)
	}

	go rt.Command.ListenStdin(ctx, os.Stdin)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	fmt.Fprintf(os.Stderr, "greenhouse serving on http://%s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	cancel()
	rt.Stop()
	return nil
}
