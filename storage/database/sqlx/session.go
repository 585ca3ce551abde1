package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core/session"
)

type sessionRow struct {
	DeviceID  string             `db:"device_id"`
	UserID    string             `db:"user_id"`
	Token     string             `db:"token"`
	FirstName string             `db:"first_name"`
	LastName  string             `db:"last_name"`
	Account   types.NullJSONText `db:"account"`
	UpdatedAt time.Time          `db:"updated_at"`
}

func (r sessionRow) toSession() session.Session {
	s := session.Session{
		DeviceID:  r.DeviceID,
		UserID:    r.UserID,
		Token:     r.Token,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Account.Valid {
		s.Account = json.RawMessage(r.Account.JSONText)
	}
	return s
}

type sessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) session.Repository {
	return &sessionRepository{db: db}
}

const upsertSession = `
INSERT INTO sessions (device_id, user_id, token, first_name, last_name, account, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (device_id) DO UPDATE SET
	user_id = excluded.user_id,
	token = excluded.token,
	first_name = excluded.first_name,
	last_name = excluded.last_name,
	account = excluded.account,
	updated_at = excluded.updated_at`

func (repo *sessionRepository) Upsert(ctx context.Context, s session.Session) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind(upsertSession),
		s.DeviceID, s.UserID, s.Token, s.FirstName, s.LastName, nullText(s.Account), s.UpdatedAt.UTC())
	return errors.Wrap(err, "upserting session")
}

func (repo *sessionRepository) Get(ctx context.Context, deviceID string) (session.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT * FROM sessions WHERE device_id = ?"), deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) Delete(ctx context.Context, deviceID string) error {
	_, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM sessions WHERE device_id = ?"), deviceID)
	return errors.Wrap(err, "deleting session")
}

func (repo *sessionRepository) List(ctx context.Context) ([]session.Session, error) {
	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, "SELECT * FROM sessions ORDER BY updated_at DESC"); err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	sessions := make([]session.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toSession())
	}
	return sessions, nil
}

// nullText stores raw JSON verbatim, NULL when absent.
func nullText(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
