// Package ingest turns a newly observed ebook file into catalog rows:
// metadata extraction, cover extraction, then one transactional store write.
package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfstonebooks/shelfstone/pkg/books"
	"github.com/shelfstonebooks/shelfstone/pkg/calibre"
	"github.com/shelfstonebooks/shelfstone/pkg/config"
	"github.com/uptrace/bun"
)

type Ingestor struct {
	config    *config.Config
	log       logger.Logger
	extractor calibre.Extractor

	bookService *books.Service
}

func New(cfg *config.Config, db *bun.DB, extractor calibre.Extractor) *Ingestor {
	return &Ingestor{
		config:    cfg,
		log:       logger.New(),
		extractor: extractor,

		bookService: books.NewService(db),
	}
}

// ProcessFile ingests a single file. Failures only ever affect this file:
// a metadata failure abandons it, a cover failure degrades to "no cover",
// and a duplicate path is a recognized outcome, not an error. There is no
// retry; the watcher has already marked the file as seen.
func (ing *Ingestor) ProcessFile(path string) {
	log := ing.log
	if id, err := uuid.NewRandom(); err == nil {
		log = log.ID(id.String())
	}
	log = log.Root(logger.Data{"path": path})
	ctx := log.WithContext(context.Background())

	log.Info("ingesting file")

	meta, err := ing.extractor.ExtractMetadata(ctx, path)
	if err != nil {
		log.Err(err).Error("metadata extraction failed, skipping file")
		return
	}
	log.Info("extracted metadata", logger.Data{
		"title":   meta.Title,
		"authors": strings.Join(meta.Authors, ", "),
		"series":  meta.Series,
	})

	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var coverPath *string
	cover, err := ing.extractor.ExtractCover(ctx, path, ing.config.CoversDirectory, baseName)
	switch {
	case errors.Is(err, calibre.ErrNoCover):
		log.Info("no cover embedded in file")
	case err != nil:
		log.Err(err).Warn("cover extraction failed, continuing without cover")
	default:
		coverPath = &cover
		log.Info("extracted cover", logger.Data{"cover_path": cover})
	}

	format := strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))

	var seriesName *string
	if meta.Series != "" {
		seriesName = &meta.Series
	}

	book, err := ing.bookService.AddBook(ctx, books.AddBookParams{
		Title:             meta.Title,
		AuthorNames:       meta.Authors,
		SeriesName:        seriesName,
		Filepath:          path,
		CoverImagePath:    coverPath,
		Format:            format,
		ExternalCalibreID: meta.ExternalCalibreID,
		ProcessedAt:       time.Now(),
	})
	if errors.Is(err, books.ErrDuplicatePath) {
		log.Info("book already in catalog, skipping", logger.Data{"book_id": book.ID})
		return
	}
	if err != nil {
		log.Err(err).Error("failed to add book to catalog")
		return
	}

	log.Info("book added to catalog", logger.Data{"book_id": book.ID, "title": book.Title})
}
