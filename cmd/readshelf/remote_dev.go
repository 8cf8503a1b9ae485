package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dfryer1193/readshelf/shared/remote/httpstore"
	"github.com/dfryer1193/readshelf/shared/remote/memstore"
)

// newRemoteDevCmd runs an in-memory document and blob server speaking the
// same protocol as the hosted backend, for local development.
func newRemoteDevCmd() *cobra.Command {
	var (
		addr    string
		apiKey  string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "remote-dev",
		Short: "Run an in-memory remote store for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = "http://" + addr
			}

			store := memstore.New(baseURL)
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpstore.NewServer(store, apiKey).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Bool("auth", apiKey != "").Msg("Starting development remote")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}

			log.Info().Strs("collections", store.Collections()).Msg("Development remote stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("READSHELF_API_KEY"), "required X-API-Key; empty disables auth")
	cmd.Flags().StringVar(&baseURL, "public-url", "", "base URL used in blob download links (default http://<addr>)")
	return cmd
}
