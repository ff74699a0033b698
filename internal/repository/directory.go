package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketchat/internal/model"
)

// DirectoryRepository reads the catalog projection (shops, user profiles)
// kept in sync by the catalog service.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) GetShop(ctx context.Context, shopID string) (*model.Shop, error) {
	s := &model.Shop{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, seller_id, name, audio_calls_enabled, video_calls_enabled FROM shops WHERE id = $1`, shopID,
	).Scan(&s.ID, &s.SellerID, &s.Name, &s.AudioCallsEnabled, &s.VideoCallsEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directoryRepo.GetShop: %w", err)
	}
	return s, nil
}

func (r *DirectoryRepository) GetUserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM user_profiles WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("directoryRepo.GetUserName: %w", err)
	}
	return name, nil
}

func (r *DirectoryRepository) UpsertShop(ctx context.Context, s model.Shop) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO shops (id, seller_id, name, audio_calls_enabled, video_calls_enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, name = EXCLUDED.name,
		   audio_calls_enabled = EXCLUDED.audio_calls_enabled, video_calls_enabled = EXCLUDED.video_calls_enabled`,
		s.ID, s.SellerID, s.Name, s.AudioCallsEnabled, s.VideoCallsEnabled)
	if err != nil {
		return fmt.Errorf("directoryRepo.UpsertShop: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) UpsertUserProfile(ctx context.Context, p model.UserProfile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_profiles (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("directoryRepo.UpsertUserProfile: %w", err)
	}
	return nil
}
