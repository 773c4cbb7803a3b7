package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ambitlabs/ambit/internal/ambient"
	"github.com/ambitlabs/ambit/internal/contexts"
	"github.com/ambitlabs/ambit/internal/record"
	"github.com/ambitlabs/ambit/internal/server"
	"github.com/ambitlabs/ambit/internal/settings"
	"github.com/ambitlabs/ambit/internal/tasks"
)

// NewServeCommand creates the serve command: the HTTP server with
// per-request context middleware plus an in-process task worker.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and task worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := settings.Default()
			if opts.Settings != "" {
				loaded, err := settings.Load(opts.Settings)
				if err != nil {
					return err
				}
				st = loaded
			}

			logger := log.Default()
			if opts.Verbose {
				logger.SetLevel(log.DebugLevel)
			}
			ambient.SetLogger(logger)

			contexts.RegisterProcessDefault(st.Process.EnvName, st.Process.Testing)
			contexts.RegisterSecretsDefault(st.Secrets.Encrypted)

			store, err := record.Open(st.DB.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			queue := tasks.NewQueue()
			worker := tasks.NewWorker(queue, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Run loops share one queue; handlers are registered before the
			// first loop starts.
			workerDone := make(chan error, st.Worker.Concurrency)
			for i := 0; i < st.Worker.Concurrency; i++ {
				go func() {
					workerDone <- worker.Run(ctx)
				}()
			}

			roots := []server.RootFactory{
				func() (ambient.Context, error) {
					testing := st.Process.Testing
					return &contexts.ProcessContext{
						Base:    ambient.Base{Root: true},
						EnvName: st.Process.EnvName,
						Testing: &testing,
					}, nil
				},
				func() (ambient.Context, error) {
					return &contexts.DataContext{
						Base:       ambient.Base{Root: true},
						DataSource: st.DB.Path,
					}, nil
				},
			}

			httpServer := &http.Server{
				Addr:    st.Server.Addr,
				Handler: server.NewContextMiddleware(server.NewMux(logger), roots, logger),
			}

			serveDone := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", st.Server.Addr, "env", st.Process.EnvName)
				serveDone <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err := <-serveDone:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown", "err", err)
			}
			queue.Close()
			for i := 0; i < st.Worker.Concurrency; i++ {
				if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		},
	}
}
