package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dfryer1193/readshelf/shared/connectivity"
	"github.com/dfryer1193/readshelf/social/application"
	"github.com/dfryer1193/readshelf/social/persistence"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending posts and comments once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(database)

			client, err := newRemoteClient(cfg)
			if err != nil {
				return err
			}

			coordinator := application.NewSyncCoordinator(
				persistence.NewPostRepository(database.DB()),
				persistence.NewCommentRepository(database.DB()),
				client,
				connectivity.NewMonitor(true),
			)
			defer coordinator.Close()

			res, err := coordinator.SyncPendingData(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"posts pushed %d, failed %d; comments pushed %d, failed %d, skipped %d; stale %d (%s)\n",
				res.PostsPushed, res.PostsFailed,
				res.CommentsPushed, res.CommentsFailed, res.CommentsSkipped,
				res.Stale, res.Duration.Round(time.Millisecond))
			if res.Failed() {
				log.Warn().Msg("Some entities are still pending")
			}
			return nil
		},
	}
}
