package books

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfstonebooks/shelfstone/pkg/errcodes"
	"github.com/shelfstonebooks/shelfstone/pkg/models"
	"github.com/uptrace/bun"
)

// ErrDuplicatePath is returned by AddBook when a book already exists for the
// given filepath. The existing book is returned alongside it, so callers can
// treat this as a recognized outcome rather than a failure.
var ErrDuplicatePath = errors.New("book already exists for filepath")

// errDuplicateInsert aborts the transaction from inside RunInTx so that any
// authors or series created for the duplicate attempt are rolled back too.
var errDuplicateInsert = errors.New("duplicate book insert")

type AddBookParams struct {
	Title             string
	AuthorNames       []string
	SeriesName        *string
	Filepath          string
	CoverImagePath    *string
	Format            string
	ExternalCalibreID *string
	ProcessedAt       time.Time
}

type RetrieveBookOptions struct {
	ID       *int
	Filepath *string
}

type ListBooksOptions struct {
	Limit  *int
	Offset *int

	includeTotal bool
}

type Service struct {
	db  *bun.DB
	log logger.Logger
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, log: logger.New()}
}

// AddBook inserts a book with its authors and series in one transaction.
// Authors and series are created lazily on first reference and reused by
// exact name afterwards. If a book already exists at params.Filepath, all
// work from this call is rolled back and the existing book is returned with
// ErrDuplicatePath.
func (svc *Service) AddBook(ctx context.Context, params AddBookParams) (*models.Book, error) {
	book := &models.Book{
		Title:             params.Title,
		Filepath:          params.Filepath,
		CoverImagePath:    params.CoverImagePath,
		Format:            params.Format,
		ExternalCalibreID: params.ExternalCalibreID,
		ProcessedAt:       params.ProcessedAt,
		AddedAt:           time.Now(),
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Resolve authors in input order.
		authors := make([]*models.Author, 0, len(params.AuthorNames))
		for _, name := range params.AuthorNames {
			author, err := findOrCreateAuthor(ctx, tx, name)
			if err != nil {
				return err
			}
			authors = append(authors, author)
		}

		// Resolve the series, if any.
		if params.SeriesName != nil && *params.SeriesName != "" {
			series, err := findOrCreateSeries(ctx, tx, *params.SeriesName)
			if err != nil {
				return err
			}
			book.SeriesID = &series.ID
			book.Series = series
		}

		// Insert the book.
		_, err := tx.NewInsert().Model(book).Returning("*").Exec(ctx)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: books.filepath") {
				return errDuplicateInsert
			}
			return errors.WithStack(err)
		}

		// Link the book to its authors. Repeated names resolve to the same
		// author id, so dedupe to keep the composite primary key happy.
		joins := make([]*models.BookAuthor, 0, len(authors))
		linked := map[int]struct{}{}
		for _, author := range authors {
			if _, ok := linked[author.ID]; ok {
				continue
			}
			linked[author.ID] = struct{}{}
			joins = append(joins, &models.BookAuthor{BookID: book.ID, AuthorID: author.ID})
		}
		if len(joins) > 0 {
			_, err = tx.NewInsert().Model(&joins).Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		book.Authors = authors
		return nil
	})
	if errors.Is(err, errDuplicateInsert) {
		existing, retrieveErr := svc.RetrieveBook(ctx, RetrieveBookOptions{Filepath: &params.Filepath})
		if retrieveErr != nil {
			return nil, errors.Wrapf(retrieveErr, "book at %s already exists but couldn't be retrieved", params.Filepath)
		}
		return existing, ErrDuplicatePath
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func findOrCreateAuthor(ctx context.Context, tx bun.Tx, name string) (*models.Author, error) {
	author := &models.Author{}
	err := tx.NewSelect().Model(author).Where("a.name = ?", name).Scan(ctx)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	author = &models.Author{Name: name}
	_, err = tx.NewInsert().Model(author).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return author, nil
}

func findOrCreateSeries(ctx context.Context, tx bun.Tx, name string) (*models.Series, error) {
	series := &models.Series{}
	err := tx.NewSelect().Model(series).Where("s.name = ?", name).Scan(ctx)
	if err == nil {
		return series, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	series = &models.Series{Name: name}
	_, err = tx.NewInsert().Model(series).Returning("*").Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return series, nil
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Series").
		Relation("Authors", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("a.name ASC")
		})

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("b.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	books := []*models.Book{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("Series").
		Order("b.title ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	// Authors are fetched per book so that one book's broken author rows
	// don't take down the whole listing. Such a book is returned with an
	// empty author list and a logged warning.
	for _, book := range books {
		authors := []*models.Author{}
		err := svc.db.
			NewSelect().
			Model(&authors).
			Join("JOIN book_authors AS ba ON ba.author_id = a.id").
			Where("ba.book_id = ?", book.ID).
			Order("a.name ASC").
			Scan(ctx)
		if err != nil {
			svc.log.Err(err).Warn("failed to fetch authors for book", logger.Data{"book_id": book.ID})
			book.Authors = []*models.Author{}
			continue
		}
		book.Authors = authors
	}

	return books, total, nil
}
