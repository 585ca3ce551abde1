package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("session not found")

// Session is the authenticated state of one device.
type Session struct {
	DeviceID  string          `json:"deviceId"`
	UserID    string          `json:"userId"`
	Token     string          `json:"token"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Account   json.RawMessage `json:"account,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Repository persists sessions, keyed by device id.
type Repository interface {
	Upsert(ctx context.Context, s Session) error
	Get(ctx context.Context, deviceID string) (Session, error)
	Delete(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]Session, error)
}
