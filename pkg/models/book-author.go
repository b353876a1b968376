package models

import "github.com/uptrace/bun"

// BookAuthor is the books<->authors join table. It has to be registered with
// bun (see database.New) before the m2m relation on Book can be queried.
type BookAuthor struct {
	bun.BaseModel `bun:"table:book_authors,alias:ba"`

	BookID   int     `bun:",pk" json:"book_id"`
	Book     *Book   `bun:"rel:belongs-to" json:"book,omitempty"`
	AuthorID int     `bun:",pk" json:"author_id"`
	Author   *Author `bun:"rel:belongs-to" json:"author,omitempty"`
}
