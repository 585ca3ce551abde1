package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core/cache"
)

type cacheRow struct {
	Payload   types.NullJSONText `db:"payload"`
	Auxiliary types.NullJSONText `db:"auxiliary"`
	UpdatedAt time.Time          `db:"updated_at"`
}

type cacheRepository struct {
	db *sqlx.DB
}

func NewCacheRepository(db *sqlx.DB) cache.Repository {
	return &cacheRepository{db: db}
}

const (
	savePayload = `
INSERT INTO domain_cache (user_id, domain, sub_key, payload, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, domain, sub_key) DO UPDATE SET
	payload = excluded.payload,
	updated_at = excluded.updated_at`

	saveAuxiliary = `
INSERT INTO domain_cache (user_id, domain, sub_key, auxiliary, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, domain, sub_key) DO UPDATE SET
	auxiliary = excluded.auxiliary,
	updated_at = excluded.updated_at`
)

func (repo *cacheRepository) SavePayload(ctx context.Context, key cache.Key, payload json.RawMessage, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(savePayload),
		key.UserID, key.Domain, key.SubKey, nullText(payload), at.UTC())
	return errors.Wrap(err, "saving cache payload")
}

func (repo *cacheRepository) SaveAuxiliary(ctx context.Context, key cache.Key, aux json.RawMessage, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(saveAuxiliary),
		key.UserID, key.Domain, key.SubKey, nullText(aux), at.UTC())
	return errors.Wrap(err, "saving cache auxiliary state")
}

func (repo *cacheRepository) Touch(ctx context.Context, key cache.Key, at time.Time) error {
	_, err := repo.db.ExecContext(ctx,
		repo.db.Rebind("UPDATE domain_cache SET updated_at = ? WHERE user_id = ? AND domain = ? AND sub_key = ?"),
		at.UTC(), key.UserID, key.Domain, key.SubKey)
	return errors.Wrap(err, "touching cache")
}

func (repo *cacheRepository) Load(ctx context.Context, key cache.Key) (cache.Entry, error) {
	var row cacheRow
	err := repo.db.GetContext(ctx, &row,
		repo.db.Rebind("SELECT payload, auxiliary, updated_at FROM domain_cache WHERE user_id = ? AND domain = ? AND sub_key = ?"),
		key.UserID, key.Domain, key.SubKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return cache.Entry{}, cache.ErrNotFound
		}
		return cache.Entry{}, errors.Wrap(err, "loading cache")
	}

	entry := cache.Entry{UpdatedAt: row.UpdatedAt.UTC()}
	if row.Payload.Valid {
		entry.Payload = json.RawMessage(row.Payload.JSONText)
	}
	if row.Auxiliary.Valid {
		entry.Auxiliary = json.RawMessage(row.Auxiliary.JSONText)
	}
	return entry, nil
}

func (repo *cacheRepository) Purge(ctx context.Context, userID string) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM domain_cache WHERE user_id = ?"), userID)
	return errors.Wrap(err, "purging cache")
}
