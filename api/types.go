package api

import (
	"context"

	"tasktogether-api/domain"
	"tasktogether-api/taskdb"
)

// TaskRepository abstracts the SQL-backed task rows for handlers.
type TaskRepository interface {
	ListByGroup(ctx context.Context, groupID string) ([]taskdb.TaskRow, error)
	Create(ctx context.Context, row taskdb.TaskRow) (string, error)
}

// Engine is the slice of the state engine the HTTP layer uses.
type Engine interface {
	PostChatMessage(ctx context.Context, groupID, userID, text string) (*domain.ChatMessage, error)
	Snapshot(ctx context.Context) *domain.Document
}

// Listener attaches handlers to a group's broadcast channel.
type Listener interface {
	Listen(ctx context.Context, groupID string, handler func(domain.ChatMessage)) (func(), error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents double inserts for replayed create requests.
type Deduper interface {
	// Claim records id under key if the key is new. It returns the id stored
	// for the key and whether this call stored it.
	Claim(ctx context.Context, key, id string) (string, bool, error)
	// Release deletes a previously claimed key, used when the insert that
	// followed the claim failed so the caller may retry.
	Release(ctx context.Context, key string) error
}
