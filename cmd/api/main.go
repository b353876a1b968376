package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/shelfstonebooks/shelfstone/pkg/calibre"
	"github.com/shelfstonebooks/shelfstone/pkg/config"
	"github.com/shelfstonebooks/shelfstone/pkg/database"
	"github.com/shelfstonebooks/shelfstone/pkg/ingest"
	"github.com/shelfstonebooks/shelfstone/pkg/migrations"
	"github.com/shelfstonebooks/shelfstone/pkg/server"
	"github.com/shelfstonebooks/shelfstone/pkg/version"
	"github.com/shelfstonebooks/shelfstone/pkg/watcher"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting shelfstone", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := ensureDirs(cfg); err != nil {
		log.Err(err).Fatal("directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	ingestor := ingest.New(cfg, db, calibre.NewCLI())

	w := watcher.New(cfg.BooksDirectory, cfg.ScanInterval(), cfg.ScanExistingOnStartup, ingestor.ProcessFile)
	if err := w.Start(); err != nil {
		log.Err(err).Fatal("watcher error")
	}

	srv, err := server.New(cfg, db)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	w.Shutdown()
	log.Info("watcher shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// ensureDirs creates the directories the process writes to before anything
// tries to use them: the watched books directory, the covers directory, and
// the directory holding the database file.
func ensureDirs(cfg *config.Config) error {
	dirs := []string{
		cfg.BooksDirectory,
		cfg.CoversDirectory,
	}
	if !strings.HasPrefix(cfg.DatabaseFilePath, ":memory:") {
		dirs = append(dirs, filepath.Dir(cfg.DatabaseFilePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	}

	return nil
}
