package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tessia-project/baselib/internal/consoled"
	"github.com/tessia-project/baselib/pkg/console"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console attach service",
	Long:  "Serve websocket console attach sessions, spawning one terminal emulator per session",
	RunE: func(cmd *cobra.Command, args []string) error {
		emulator := cfg.Consoled.Emulator
		service := consoled.NewService(func() (consoled.Console, error) {
			transport, err := console.NewSubprocessTransport(emulator)
			if err != nil {
				return nil, err
			}
			return console.NewTerminal(transport), nil
		})

		server := &http.Server{
			Addr:    cfg.Consoled.Listen,
			Handler: service.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("listen", server.Addr).Msg("Console attach service listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
		}

		service.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
