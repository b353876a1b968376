package models

import "github.com/uptrace/bun"

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID   int    `bun:",pk,autoincrement" json:"id"`
	Name string `bun:",nullzero" json:"name"`
}
