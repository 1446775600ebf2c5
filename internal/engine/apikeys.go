package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"teamboard/internal/domain"
	"teamboard/internal/repo"
)

// CreateAPIKey issues a new key for the actor. The plaintext key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, name, actorID string) (domain.APIKey, string, error) {
	if err := required("user_id", actorID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	plain := "tb_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		UserID:    actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.UpsertUser(ctx, nil, domain.User{UID: actorID}, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	return e.Repo.DeleteAPIKey(ctx, id, actorID)
}
