package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newServeHealthCmd runs a small HTTP server exposing /livez (for the
// host harness to probe) and /metrics (Prometheus scrape), and starts the
// parent-process watchdog so an orphaned server exits on its own. Grounded
// on the teacher's server.go run-loop (signal-driven shutdown, blocking
// ListenAndServe in a goroutine) combined with health.go's endpoint naming.
func newServeHealthCmd(flags *cmdFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-health",
		Short: "Serve /livez and /metrics for the running blz process",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := initLogger(flags); err != nil {
				return err
			}

			eng, err := newEngine(flags, true)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			startParentGuard(ctx, flags, cancel)

			mux := http.NewServeMux()
			mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})

			if handler := eng.MetricsHandler(); handler != nil {
				mux.Handle("/metrics", handler)
			}

			srv := &http.Server{Addr: addr, Handler: mux}

			errCh := make(chan error, 1)

			go func() {
				slog.Info("serve-health listening", "addr", addr)

				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
					return
				}

				errCh <- nil
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8085", "listen address for /livez and /metrics")

	return cmd
}
