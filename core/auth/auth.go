package auth

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrChallengeNotFound = errors.New("double authentication expired, log in again")
	ErrNoCredentials     = errors.New("no stored credentials")
)

// State of a login attempt.
type State int

const (
	StateStart State = iota
	StateGTKAcquired
	StateCredentialsSubmitted
	StateDoubleAuthPending
	StateAuthenticated
	StateFailed
)

var stateNames = [...]string{
	StateStart:                "START",
	StateGTKAcquired:          "GTK_ACQUIRED",
	StateCredentialsSubmitted: "CREDENTIALS_SUBMITTED",
	StateDoubleAuthPending:    "DOUBLE_AUTH_PENDING",
	StateAuthenticated:        "AUTHENTICATED",
	StateFailed:               "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

type (
	// FAPair is the double authentication resolution handed back by the upstream.
	FAPair struct {
		CN string `json:"cn"`
		CV string `json:"cv"`
	}

	// Credentials are what a non-interactive re-login needs.
	Credentials struct {
		Identifier string
		Secret     string
		FA         []FAPair
	}

	Option struct {
		DisplayText string `json:"displayText"`
		RawValue    string `json:"rawValue"`
	}

	// Challenge is the decoded double authentication question.
	Challenge struct {
		QuestionText string   `json:"questionText"`
		Options      []Option `json:"options"`
	}

	// Result is the outcome of a login step, as handed to the UI layer.
	Result struct {
		State           State           `json:"-"`
		Success         bool            `json:"success"`
		NeedsDoubleAuth bool            `json:"needsDoubleAuth,omitempty"`
		Token           string          `json:"token,omitempty"`
		UserID          string          `json:"userId,omitempty"`
		Account         json.RawMessage `json:"account,omitempty"`
		FirstName       string          `json:"firstName,omitempty"`
		LastName        string          `json:"lastName,omitempty"`
		Challenge       *Challenge      `json:"challenge,omitempty"`
		Message         string          `json:"message,omitempty"`
		Offline         bool            `json:"offline,omitempty"`
	}
)

func failed(message string) Result {
	return Result{State: StateFailed, Message: message}
}
