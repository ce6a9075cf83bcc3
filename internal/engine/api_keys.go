package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskmanager/internal/domain"
	"taskmanager/internal/events"
	"taskmanager/internal/repo"
)

const apiKeySecretPrefix = "tmk_"

// APIKeyIssueOptions describes a new key. An empty ProjectID issues a key that reaches
// every project.
type APIKeyIssueOptions struct {
	ProjectID string
	ActorID   string `validate:"required,max=200"`
	Name      string `validate:"max=100"`
	IssuedBy  string
}

// IssueAPIKey stores a new key and returns it with its secret. The secret is not
// recoverable afterwards.
func (e Engine) IssueAPIKey(ctx context.Context, opts APIKeyIssueOptions) (domain.APIKey, string, error) {
	if err := e.check(opts); err != nil {
		return domain.APIKey{}, "", err
	}
	if opts.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.APIKey{}, "", ValidationError{Field: "project_id", Message: fmt.Sprintf("project %s not found", opts.ProjectID)}
			}
			return domain.APIKey{}, "", err
		}
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	secret := apiKeySecretPrefix + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ProjectID: opts.ProjectID,
		ActorID:   opts.ActorID,
		Name:      opts.Name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	issuer := opts.IssuedBy
	if issuer == "" {
		issuer = opts.ActorID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if _, err := e.eventLog().Append(ctx, tx, "api_key.issued", key.ProjectID, "api_key", key.ID, issuer, events.EventPayload{
		"actor_id": key.ActorID,
		"name":     key.Name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	e.log().WithFields(logrus.Fields{"key": key.ID, "actor": key.ActorID, "project": key.ProjectID}).Info("api key issued")
	return key, secret, nil
}

// AuthenticateAPIKey resolves a presented secret to its key and records the use.
func (e Engine) AuthenticateAPIKey(ctx context.Context, secret string) (domain.APIKey, error) {
	if secret == "" {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return e.Repo.ResolveAPIKey(ctx, secret, e.stamp())
}

func (e Engine) ListAPIKeys(ctx context.Context, f repo.APIKeyFilters) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, f)
}

// RevokeAPIKey deletes a key; later requests presenting it are rejected.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	key, err := e.Repo.GetAPIKey(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if _, err := e.eventLog().Append(ctx, tx, "api_key.revoked", key.ProjectID, "api_key", key.ID, actorID, events.EventPayload{
		"actor_id": key.ActorID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
