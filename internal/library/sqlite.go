package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/LettuceAI/creation-engine/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS entities (
		entity_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		draft_json TEXT NOT NULL,
		avatar_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);

	CREATE TABLE IF NOT EXISTS avatars (
		entity_id TEXT PRIMARY KEY,
		image_id TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		data BLOB NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveEntity creates or updates an entity record.
func (s *SQLiteStore) SaveEntity(ctx context.Context, entity *Entity) error {
	draftJSON, err := json.Marshal(entity.Draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	query := `
	INSERT INTO entities (entity_id, name, draft_json, avatar_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity_id) DO UPDATE SET
		name = excluded.name,
		draft_json = excluded.draft_json,
		avatar_id = COALESCE(excluded.avatar_id, entities.avatar_id),
		updated_at = excluded.updated_at`

	var avatarID interface{}
	if entity.AvatarID != "" {
		avatarID = entity.AvatarID
	}

	return shared.RetrySQLite(3, 100*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, query,
			entity.ID, entity.Name, string(draftJSON), avatarID,
			entity.CreatedAt.Unix(), entity.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}
		return nil
	})
}

// GetEntity retrieves an entity by id.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	query := `
		SELECT entity_id, name, draft_json, avatar_id, created_at, updated_at
		FROM entities WHERE entity_id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	entity, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity row: %w", err)
	}
	return entity, nil
}

// ListEntities returns up to limit entities, most recently updated first.
func (s *SQLiteStore) ListEntities(ctx context.Context, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT entity_id, name, draft_json, avatar_id, created_at, updated_at
		FROM entities ORDER BY updated_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entity rows", "error", closeErr)
		}
	}()

	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

func scanEntity(scan func(dest ...any) error) (*Entity, error) {
	var entity Entity
	var draftJSON string
	var avatarID sql.NullString
	var createdAt, updatedAt int64

	if err := scan(&entity.ID, &entity.Name, &draftJSON, &avatarID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(draftJSON), &entity.Draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	entity.AvatarID = avatarID.String
	entity.CreatedAt = time.Unix(createdAt, 0)
	entity.UpdatedAt = time.Unix(updatedAt, 0)
	return &entity, nil
}

// DeleteEntity removes an entity and its avatar.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	return shared.RetrySQLite(3, 100*time.Millisecond, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM avatars WHERE entity_id = ?`, id); err != nil {
			return fmt.Errorf("delete avatar: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_id = ?`, id); err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		return nil
	})
}

// PutAvatar stores avatar bytes for an entity.
func (s *SQLiteStore) PutAvatar(ctx context.Context, avatar *Avatar) error {
	query := `
	INSERT INTO avatars (entity_id, image_id, mime_type, data)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(entity_id) DO UPDATE SET
		image_id = excluded.image_id,
		mime_type = excluded.mime_type,
		data = excluded.data`

	return shared.RetrySQLite(3, 100*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, query,
			avatar.EntityID, avatar.ImageID, avatar.MimeType, avatar.Data,
		)
		if err != nil {
			return fmt.Errorf("upsert avatar: %w", err)
		}
		return nil
	})
}

// GetAvatar retrieves the avatar for an entity.
func (s *SQLiteStore) GetAvatar(ctx context.Context, entityID string) (*Avatar, error) {
	query := `SELECT entity_id, image_id, mime_type, data FROM avatars WHERE entity_id = ?`

	var avatar Avatar
	err := s.db.QueryRowContext(ctx, query, entityID).Scan(
		&avatar.EntityID, &avatar.ImageID, &avatar.MimeType, &avatar.Data,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan avatar row: %w", err)
	}
	return &avatar, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
