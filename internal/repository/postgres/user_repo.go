package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nmoreras/pregunton/internal/model"
)

// UserRepo handles user database operations.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo creates a UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindByID looks up a user by id.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, provider, provider_id, avatar_url, created
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Provider, &u.ProviderID, &avatar, &u.Created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	u.AvatarURL = avatar.String
	return &u, nil
}

// FindByProviderID looks up a user by OAuth provider and provider-specific ID.
func (r *UserRepo) FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, provider, provider_id, avatar_url, created
		 FROM users WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	).Scan(&u.ID, &u.Username, &u.Provider, &u.ProviderID, &avatar, &u.Created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by provider: %w", err)
	}
	u.AvatarURL = avatar.String
	return &u, nil
}

// Upsert creates a user or refreshes the username and avatar of an existing
// identity. Returns the user with ID populated.
func (r *UserRepo) Upsert(ctx context.Context, provider, providerID, username, avatarURL string) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, provider, provider_id, avatar_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, provider_id)
		 DO UPDATE SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url
		 RETURNING id, username, provider, provider_id, avatar_url, created`,
		username, provider, providerID, nullStr(avatarURL),
	).Scan(&u.ID, &u.Username, &u.Provider, &u.ProviderID, &avatar, &u.Created)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	u.AvatarURL = avatar.String
	return &u, nil
}
