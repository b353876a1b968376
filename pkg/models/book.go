package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID                int       `bun:",pk,autoincrement" json:"id"`
	Title             string    `bun:",nullzero" json:"title"`
	SeriesID          *int      `json:"series_id,omitempty"`
	Series            *Series   `bun:"rel:belongs-to" json:"series,omitempty"`
	Filepath          string    `bun:",nullzero" json:"filepath"`
	CoverImagePath    *string   `json:"cover_image_path"`
	Format            string    `bun:",nullzero" json:"format"`
	ProcessedAt       time.Time `json:"processed_at"`
	AddedAt           time.Time `json:"added_at"`
	ExternalCalibreID *string   `json:"external_calibre_id"`
	Authors           []*Author `bun:"m2m:book_authors,join:Book=Author" json:"authors"`
}

// AuthorNames flattens the loaded author relation for display and logs.
func (b *Book) AuthorNames() []string {
	names := make([]string, 0, len(b.Authors))
	for _, author := range b.Authors {
		names = append(names, author.Name)
	}
	return names
}
