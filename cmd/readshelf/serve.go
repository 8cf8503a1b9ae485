package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	imageapp "github.com/dfryer1193/readshelf/imagecache/application"
	"github.com/dfryer1193/readshelf/internal/middleware"
	"github.com/dfryer1193/readshelf/internal/rest"
	"github.com/dfryer1193/readshelf/shared/config"
	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/social/application"
	"github.com/dfryer1193/readshelf/social/persistence"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API with background sync, feed mirroring and cache eviction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(database)

	images, err := newImageManager(cfg, database)
	if err != nil {
		return err
	}
	defer images.Close()

	client, err := newRemoteClient(cfg)
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(false)
	pinger, err := connectivity.NewPinger(monitor, cfg.Remote.URL, cfg.Connectivity.PingInterval, cfg.Connectivity.PingTimeout)
	if err != nil {
		return err
	}
	pinger.Ping(ctx)
	pinger.Start(ctx)
	defer pinger.Stop()

	posts := persistence.NewPostRepository(database.DB())
	comments := persistence.NewCommentRepository(database.DB())

	coordinator := application.NewSyncCoordinator(posts, comments, client, monitor)
	coordinator.Start()
	defer func() {
		if err := coordinator.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to gracefully close sync coordinator")
		}
	}()

	postService := application.NewPostService(
		posts,
		comments,
		application.NewMarkdownRenderer(),
		client,
		client,
		images,
		monitor,
		coordinator,
	)

	mirror := application.NewFeedMirror(posts, client, images, monitor, cfg.Feed.MirrorLimit)
	mirror.Start(ctx)
	defer mirror.Stop()

	evictor := imageapp.NewEvictor(images, cfg.Cache.EvictInterval, cfg.Cache.MaxAgeDays)
	evictor.Start(ctx)
	defer evictor.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))
	rest.NewApi(router, rest.NewHandlers(postService, images, coordinator, monitor, cfg.Cache.MaxAgeDays))

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Str("remote", cfg.Remote.URL).Msg("Starting server")
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

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
