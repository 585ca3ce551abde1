package recovery

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
)

// ErrReauthRequired means the session expired and no credentials are stored to renew it:
// the user has to log in again.
var ErrReauthRequired = errors.New("session expired, log in again")

var errReloginFailed = errors.New("relogin failed")

// Relogin outcomes.
const (
	OutcomeRenewed   = "renewed"
	OutcomeFailed    = "failed"
	OutcomeNoCreds   = "no_credentials"
	OutcomeRefreshed = "refreshed" // another call already renewed the token
)

// Authenticator renews the session of a device without user interaction.
type Authenticator interface {
	Relogin(ctx context.Context, deviceID string) (auth.Result, error)
	HasCredentials(deviceID string) bool
}

// Observer is notified of every expiry handled, with its outcome.
type Observer func(outcome string)

// Guard runs upstream calls on behalf of a session, renewing it once when the token expired.
type Guard struct {
	client   upstream.Caller
	auth     Authenticator
	sessions *session.Store
	logger   core.Logger
	observe  Observer
	group    singleflight.Group
	timeout  time.Duration
}

func NewGuard(client upstream.Caller, authn Authenticator, sessions *session.Store, logger core.Logger, observe Observer) *Guard {
	return &Guard{
		client:   client,
		auth:     authn,
		sessions: sessions,
		logger:   logger,
		observe:  observe,
		timeout:  30 * time.Second,
	}
}

// SetReloginTimeout bounds the shared re-login of a device.
func (g *Guard) SetReloginTimeout(d time.Duration) {
	if d > 0 {
		g.timeout = d
	}
}

// Call issues req with the newest token known for sess.
// On expiry it logs in again with the stored credentials and retries exactly once,
// returning the retry as is. When the re-login fails, the expired response is returned.
func (g *Guard) Call(ctx context.Context, sess session.Session, req upstream.Request) (*upstream.Response, error) {
	token := g.token(ctx, sess)
	resp, err := g.call(ctx, sess.DeviceID, token, req)
	if err != nil || resp.Code != upstream.CodeTokenExpired {
		return resp, err
	}

	if !g.auth.HasCredentials(sess.DeviceID) {
		g.notify(OutcomeNoCreds)
		return nil, ErrReauthRequired
	}

	// a concurrent call may have renewed the token already
	if fresh := g.token(ctx, sess); fresh != token {
		g.notify(OutcomeRefreshed)
		return g.call(ctx, sess.DeviceID, fresh, req)
	}

	fresh, err := g.relogin(ctx, sess.DeviceID)
	if err != nil {
		g.notify(OutcomeFailed)
		g.logger.Warn("relogin failed", errors.Wrap(err, req.Path), core.Person{ID: sess.DeviceID, Username: sess.UserID})
		return resp, nil
	}
	g.notify(OutcomeRenewed)
	return g.call(ctx, sess.DeviceID, fresh, req)
}

func (g *Guard) token(ctx context.Context, sess session.Session) string {
	if cur, ok := g.sessions.Get(ctx, sess.DeviceID); ok && cur.Token != "" {
		return cur.Token
	}
	return sess.Token
}

func (g *Guard) call(ctx context.Context, deviceID, token string, req upstream.Request) (*upstream.Response, error) {
	req.Token = token
	req.SendToken = true
	resp, err := g.client.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() && resp.Token != "" && resp.Token != token {
		g.sessions.UpdateToken(ctx, deviceID, resp.Token)
	}
	return resp, nil
}

// relogin collapses concurrent renewals of one device into a single login.
// The login runs detached from the callers, each of which stops waiting when its own ctx is done.
func (g *Guard) relogin(ctx context.Context, deviceID string) (string, error) {
	ch := g.group.DoChan(deviceID, func() (interface{}, error) {
		loginCtx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		res, err := g.auth.Relogin(loginCtx, deviceID)
		if err != nil {
			return "", err
		}
		if !res.Success || res.Token == "" {
			return "", errors.Wrap(errReloginFailed, res.Message)
		}
		return res.Token, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "waiting for relogin")
	}
}

func (g *Guard) notify(outcome string) {
	if g.observe != nil {
		g.observe(outcome)
	}
}
