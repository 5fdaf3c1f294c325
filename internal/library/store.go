// Package library persists accepted entities and their avatars. It is the
// collaborator surface the creation engine promotes drafts into and reads
// references from.
package library

import (
	"context"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

// Entity is a persisted character created from an accepted draft.
type Entity struct {
	ID        string
	Name      string
	Draft     domain.DraftEntity
	AvatarID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Avatar is a resolved avatar image for an entity.
type Avatar struct {
	EntityID string
	ImageID  string
	MimeType string
	Data     []byte
}

// Repository defines the interface for persisting entities and avatars.
type Repository interface {
	// SaveEntity creates or updates an entity record.
	SaveEntity(ctx context.Context, entity *Entity) error

	// GetEntity retrieves an entity by id. Returns nil, nil when absent.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// ListEntities returns up to limit entities, most recently updated first.
	ListEntities(ctx context.Context, limit int) ([]*Entity, error)

	// DeleteEntity removes an entity and its avatar.
	DeleteEntity(ctx context.Context, id string) error

	// PutAvatar stores avatar bytes for an entity.
	PutAvatar(ctx context.Context, avatar *Avatar) error

	// GetAvatar retrieves the avatar for an entity. Returns nil, nil when absent.
	GetAvatar(ctx context.Context, entityID string) (*Avatar, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
