package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/changelogd/internal/httpapi"
)

var (
	// serveHost is the interface the HTTP server binds
	serveHost string
	// servePort overrides server.port from the config when non-zero
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the distillation pipeline over HTTP",
	Long: `Start the HTTP server exposing the pipeline.

Endpoints:
  GET  /health
  POST /api/v1/scan
  POST /api/v1/distill

Examples:
  # Serve on the configured port (default 8080)
  changelogd serve

  # Bind a specific interface and port
  changelogd serve --host 0.0.0.0 --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "interface to bind")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (defaults to server.port from the config)")
}

// runServe handles the serve command. Blocks until a signal arrives or
// the server fails.
func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := newService(rt.cfg, rt.logger.Underlying())
	if err != nil {
		return err
	}

	port := rt.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	server, err := httpapi.NewServer(svc, rt.logger.Underlying(), &httpapi.Config{
		Host: serveHost,
		Port: port,
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case err := <-errChan:
		// Server failed before any signal
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
