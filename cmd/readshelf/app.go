package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/readshelf/imagecache/application"
	"github.com/dfryer1193/readshelf/imagecache/blobstore"
	"github.com/dfryer1193/readshelf/imagecache/fetch"
	cachepersistence "github.com/dfryer1193/readshelf/imagecache/persistence"
	"github.com/dfryer1193/readshelf/shared/config"
	"github.com/dfryer1193/readshelf/shared/db/sqlite"
	"github.com/dfryer1193/readshelf/shared/remote/httpstore"
)

const failureMemoSize = 256

func openDatabase(cfg *config.Config) (*sqlite.SQLiteDB, error) {
	database, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	return database, nil
}

func newImageManager(cfg *config.Config, database *sqlite.SQLiteDB) (*application.Manager, error) {
	blobs, err := blobstore.New(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open image cache directory: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(&http.Client{Timeout: cfg.Cache.FetchTimeout}, cfg.Cache.MaxImageBytes)
	return application.NewManager(
		cachepersistence.NewRecordRepository(database.DB()),
		blobs,
		fetcher,
		application.WithFailureMemo(failureMemoSize, cfg.Cache.FailureTTL),
	), nil
}

func newRemoteClient(cfg *config.Config) (*httpstore.Client, error) {
	if cfg.Remote.URL == "" {
		return nil, errors.New("remote.url is required (or set READSHELF_REMOTE_URL)")
	}
	client, err := httpstore.NewClient(cfg.Remote.URL, cfg.Remote.APIKey,
		httpstore.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		httpstore.WithPollInterval(cfg.Remote.PollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return client, nil
}

func closeDatabase(database *sqlite.SQLiteDB) {
	if err := database.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close local database")
	}
}
