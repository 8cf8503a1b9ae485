package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the local image cache",
	}

	var maxAgeDays int
	evict := &cobra.Command{
		Use:   "evict",
		Short: "Remove expired images and reconcile the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age-days") {
				maxAgeDays = cfg.Cache.MaxAgeDays
			}

			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(database)

			images, err := newImageManager(cfg, database)
			if err != nil {
				return err
			}

			res, err := images.EvictExpired(cmd.Context(), maxAgeDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d, missing files %d, orphans %d, errors %d (%s)\n",
				res.ExpiredRecords, res.MissingFiles, res.OrphanFiles, res.Errors, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	evict.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "evict images older than this many days (default from config)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached image",
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

			images, err := newImageManager(cfg, database)
			if err != nil {
				return err
			}
			return images.ClearAll(cmd.Context())
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache size",
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

			images, err := newImageManager(cfg, database)
			if err != nil {
				return err
			}

			s, err := images.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "records %d, bytes %d\n", s.Records, s.TotalBytes)
			if s.Records > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "oldest %s, newest %s\n",
					s.Oldest.Format(time.RFC3339), s.Newest.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(evict, clearCmd, stats)
	return cmd
}
