package models

import "github.com/uptrace/bun"

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID   int    `bun:",pk,autoincrement" json:"id"`
	Name string `bun:",nullzero" json:"name"`
}
