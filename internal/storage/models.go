package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CatalogMeta is the per-catalog bulk-update record. It is overwritten on
// every successful PutAll and deleted when the catalog cache is cleared.
type CatalogMeta struct {
	Catalog   string
	UpdatedAt time.Time
	ItemCount int
}
