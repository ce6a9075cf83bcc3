package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"taskmanager/internal/domain"
)

const apiKeyColumns = `id,COALESCE(project_id,''),actor_id,COALESCE(name,''),key_hash,created_at,COALESCE(last_used_at,'')`

// HashAPIKey is how secrets are stored and looked up; the secret itself is never kept.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id,project_id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, nullable(key.ProjectID), key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// ResolveAPIKey finds the key matching secret and stamps it as used at now.
func (r Repo) ResolveAPIKey(ctx context.Context, secret, now string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE key_hash=? RETURNING `+apiKeyColumns,
		now, HashAPIKey(secret))
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

func (r Repo) GetAPIKey(ctx context.Context, tx *sql.Tx, id string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.q(tx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

type APIKeyFilters struct {
	ProjectID string
	ActorID   string
}

// ListAPIKeys returns keys newest first. A project filter also returns unscoped keys,
// since those reach the project too.
func (r Repo) ListAPIKeys(ctx context.Context, f APIKeyFilters) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND (project_id=? OR project_id IS NULL)`
		args = append(args, f.ProjectID)
	}
	if f.ActorID != "" {
		query += ` AND actor_id=?`
		args = append(args, f.ActorID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, key)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAPIKey(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKey(s interface{ Scan(...any) error }) (domain.APIKey, error) {
	var k domain.APIKey
	err := s.Scan(&k.ID, &k.ProjectID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.LastUsedAt)
	return k, err
}
