package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/platform"
)

// AdminKeyService manages the keys that protect the administrative API.
type AdminKeyService struct {
	db DB
}

func NewAdminKeyService(db DB) *AdminKeyService {
	return &AdminKeyService{db: db}
}

// Create generates a new admin key, stores the hash, and returns the model
// along with the raw key string. The raw key must be shown to the caller
// exactly once.
func (s *AdminKeyService) Create(ctx context.Context, name string) (*model.AdminKey, string, error) {
	rawKey, err := platform.NewToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate admin key: %w", err)
	}

	id := platform.NewID()
	_, err = s.db.Exec(ctx,
		`INSERT INTO admin_keys (id, name, key_hash, key_prefix, created_at) VALUES ($1, $2, $3, $4, now())`,
		id, name, platform.HashToken(rawKey), platform.TokenPrefix(rawKey),
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert admin key: %w", err)
	}

	key := &model.AdminKey{
		ID:        id,
		Name:      name,
		KeyPrefix: platform.TokenPrefix(rawKey),
	}
	err = s.db.QueryRow(ctx, `SELECT created_at FROM admin_keys WHERE id = $1`, id).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("get admin key created_at: %w", err)
	}

	return key, rawKey, nil
}

// GetByID retrieves an admin key by its ID.
func (s *AdminKeyService) GetByID(ctx context.Context, id string) (*model.AdminKey, error) {
	var k model.AdminKey
	err := s.db.QueryRow(ctx,
		`SELECT id, name, key_prefix, created_at, revoked_at FROM admin_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("admin key %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get admin key %s: %w", id, err)
	}
	return &k, nil
}

// List retrieves admin keys with cursor-based pagination.
func (s *AdminKeyService) List(ctx context.Context, limit int, cursor string) ([]model.AdminKey, bool, error) {
	query := `SELECT id, name, key_prefix, created_at, revoked_at FROM admin_keys`
	args := []any{}
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list admin keys: %w", err)
	}
	defer rows.Close()

	var keys []model.AdminKey
	for rows.Next() {
		var k model.AdminKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, false, fmt.Errorf("scan admin key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate admin keys: %w", err)
	}

	hasMore := len(keys) > limit
	if hasMore {
		keys = keys[:limit]
	}
	return keys, hasMore, nil
}

// LookupKeyHash resolves an unrevoked admin key hash to its ID. Used by the
// API auth middleware; exact hash match only.
func (s *AdminKeyService) LookupKeyHash(ctx context.Context, keyHash string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT id FROM admin_keys WHERE key_hash = $1 AND revoked_at IS NULL`, keyHash,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup admin key: %w", err)
	}
	return id, nil
}

// Revoke soft-deletes an admin key by setting revoked_at.
func (s *AdminKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE admin_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("revoke admin key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("admin key %s not found or already revoked: %w", id, ErrNotFound)
	}
	return nil
}
