package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("cache entry not found")

// Domains.
const (
	DomainGrades      = "grades"
	DomainHomework    = "homework"
	DomainSchedule    = "schedule"
	DomainVieScolaire = "viescolaire"
	DomainMessages    = "messages"
)

// Key addresses one cached payload.
type Key struct {
	UserID string
	Domain string
	SubKey string
}

// Entry is a cached upstream payload plus the auxiliary state attached to it.
// A nil Payload means only the auxiliary state was ever written.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	Auxiliary json.RawMessage `json:"auxiliary,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Repository persists cache entries.
// SavePayload replaces the payload and keeps the auxiliary state; SaveAuxiliary does the opposite.
type Repository interface {
	SavePayload(ctx context.Context, key Key, payload json.RawMessage, at time.Time) error
	SaveAuxiliary(ctx context.Context, key Key, aux json.RawMessage, at time.Time) error
	Touch(ctx context.Context, key Key, at time.Time) error
	Load(ctx context.Context, key Key) (Entry, error)
	Purge(ctx context.Context, userID string) error
}
