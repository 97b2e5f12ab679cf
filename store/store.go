package store

import (
	"context"

	"tasktogether-api/domain"
)

// Store persists the whole document as a single record under a fixed key.
// There are no partial writes and no versioning; the last writer wins.
type Store interface {
	// Load returns the last-saved document. A missing or undecodable record
	// yields the empty skeleton rather than an error.
	Load(ctx context.Context) *domain.Document
	// Save serializes the document and overwrites the persisted record.
	Save(ctx context.Context, doc *domain.Document) error
}
