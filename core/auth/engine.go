package auth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
)

const (
	loginPath      = "login.awp"
	doubleAuthPath = "connexion/doubleauth.awp"

	msgUnreachable         = "the school server could not be reached"
	msgLoginFailed         = "invalid credentials"
	msgDoubleAuthRequired  = "double authentication required"
	msgDoubleAuthFailed    = "double authentication failed"
	msgChallengeUnreadable = "the double authentication question could not be fetched"
)

type (
	// attempt carries the upstream state of one login attempt.
	attempt struct {
		state      State
		gtkCookies []string
		gtkValue   string
		cookies    []string
		resp       *upstream.Response
	}

	// carrier is one way of presenting the intermediate token on the question fetch.
	carrier struct {
		twoFAHeader bool
		gtkOnly     bool
	}

	loginRequest struct {
		Identifier string   `json:"identifiant"`
		Secret     string   `json:"motdepasse"`
		IsRelogin  bool     `json:"isRelogin"`
		UUID       string   `json:"uuid"`
		FA         []FAPair `json:"fa"`
	}

	answerRequest struct {
		Choice string `json:"choix"`
	}
)

// carriers are tried in order until the upstream stops answering 520.
var carriers = [...]carrier{
	{twoFAHeader: false, gtkOnly: false},
	{twoFAHeader: true, gtkOnly: false},
	{twoFAHeader: false, gtkOnly: true},
	{twoFAHeader: true, gtkOnly: true},
}

// Engine runs the login handshake against the upstream.
type Engine struct {
	client   upstream.Caller
	pending  PendingStore
	creds    CredentialStore
	sessions *session.Store
	logger   core.Logger
	timeout  time.Duration
}

func NewEngine(
	client upstream.Caller,
	pending PendingStore,
	creds CredentialStore,
	sessions *session.Store,
	logger core.Logger,
	timeout time.Duration,
) *Engine {
	return &Engine{
		client:   client,
		pending:  pending,
		creds:    creds,
		sessions: sessions,
		logger:   logger,
		timeout:  timeout,
	}
}

// Login authenticates deviceID with creds. The error is only set when the upstream could not be reached
// or a store failed; rejections are FAILED results.
func (e *Engine) Login(ctx context.Context, deviceID string, creds Credentials) (Result, error) {
	return e.login(ctx, deviceID, creds, true)
}

// Relogin authenticates deviceID again with its stored credentials, without user interaction.
func (e *Engine) Relogin(ctx context.Context, deviceID string) (Result, error) {
	creds, ok := e.creds.Get(deviceID)
	if !ok {
		return failed(ErrNoCredentials.Error()), ErrNoCredentials
	}
	return e.login(ctx, deviceID, creds, false)
}

// Logout forgets everything known about deviceID.
func (e *Engine) Logout(ctx context.Context, deviceID string) {
	e.creds.Delete(deviceID)
	e.sessions.Delete(ctx, deviceID)
}

// HasCredentials tells whether deviceID can be re-authenticated without user interaction.
func (e *Engine) HasCredentials(deviceID string) bool {
	_, ok := e.creds.Get(deviceID)
	return ok
}

func (e *Engine) login(ctx context.Context, deviceID string, creds Credentials, interactive bool) (Result, error) {
	a, err := e.acquireGTK(ctx)
	if err != nil {
		return failed(msgUnreachable), err
	}
	if err = e.submitCredentials(ctx, a, creds); err != nil {
		return failed(msgUnreachable), err
	}

	resp := a.resp
	switch {
	case resp.Code == upstream.CodeOK && resp.Token != "":
		return e.authenticate(ctx, deviceID, creds, resp), nil
	case resp.Code == upstream.CodeDoubleAuth && resp.Token != "":
		if !interactive {
			return failed(msgDoubleAuthRequired), nil
		}
		return e.beginDoubleAuth(ctx, deviceID, creds, a)
	}
	return failed(rejectionMessage(resp.Envelope, msgLoginFailed)), nil
}

func (e *Engine) acquireGTK(ctx context.Context) (*attempt, error) {
	resp, err := e.client.Call(ctx, upstream.Request{
		Method:  http.MethodGet,
		Path:    loginPath,
		Query:   url.Values{"gtk": {"1"}},
		Timeout: e.timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "acquiring GTK")
	}

	a := &attempt{
		state:      StateGTKAcquired,
		gtkCookies: resp.Cookies,
		gtkValue:   upstream.GTKValue(resp.Cookies),
	}
	if a.gtkValue == "" {
		e.logger.Warn("no GTK cookie received", map[string]interface{}{"cookies": len(resp.Cookies)})
	}
	return a, nil
}

func (e *Engine) submitCredentials(ctx context.Context, a *attempt, creds Credentials) error {
	fa := creds.FA
	if fa == nil {
		fa = []FAPair{}
	}
	resp, err := e.client.Call(ctx, upstream.Request{
		Path:      loginPath,
		SendToken: true,
		GTK:       a.gtkValue,
		Cookies:   a.gtkCookies,
		Body: loginRequest{
			Identifier: creds.Identifier,
			Secret:     creds.Secret,
			FA:         fa,
		},
		Timeout: e.timeout,
	})
	if err != nil {
		return errors.Wrap(err, "submitting credentials")
	}

	a.state = StateCredentialsSubmitted
	a.resp = resp
	a.cookies = append(append(make([]string, 0, len(a.gtkCookies)+len(resp.Cookies)), a.gtkCookies...), resp.Cookies...)
	return nil
}

// authenticate persists the session of an authenticated response.
func (e *Engine) authenticate(ctx context.Context, deviceID string, creds Credentials, resp *upstream.Response) Result {
	res := Result{
		State:   StateAuthenticated,
		Success: true,
		Token:   resp.Token,
	}

	raw, acc, ok := firstAccount(resp.Data)
	if ok {
		sub := acc.Subject()
		res.Account = raw
		res.UserID = sub.ID
		res.FirstName = sub.FirstName
		res.LastName = sub.LastName
		e.sessions.Upsert(ctx, session.Session{
			DeviceID:  deviceID,
			UserID:    sub.ID,
			Token:     resp.Token,
			FirstName: sub.FirstName,
			LastName:  sub.LastName,
			Account:   raw,
		})
	} else if sess, found := e.sessions.Get(ctx, deviceID); found {
		res.UserID = sess.UserID
		res.FirstName = sess.FirstName
		res.LastName = sess.LastName
		res.Account = sess.Account
		e.sessions.UpdateToken(ctx, deviceID, resp.Token)
	} else {
		e.logger.Warn("authenticated without an account", core.Person{ID: deviceID})
	}

	e.creds.Put(deviceID, creds)
	return res
}

func (e *Engine) beginDoubleAuth(ctx context.Context, deviceID string, creds Credentials, a *attempt) (Result, error) {
	tok := a.resp.Token
	pend := PendingChallenge{
		DeviceID:       deviceID,
		CarrierCookies: a.cookies,
		GTKCookies:     a.gtkCookies,
		GTKValue:       a.gtkValue,
		Identifier:     creds.Identifier,
		Secret:         creds.Secret,
	}
	if err := e.pending.Put(ctx, tok, pend); err != nil {
		return failed(msgDoubleAuthFailed), errors.Wrap(err, "storing pending challenge")
	}

	ch, err := e.fetchChallenge(ctx, tok, pend)
	if err != nil || ch == nil {
		e.discard(ctx, tok)
		if err != nil {
			return failed(msgUnreachable), err
		}
		return failed(msgChallengeUnreadable), nil
	}

	return Result{
		State:           StateDoubleAuthPending,
		NeedsDoubleAuth: true,
		Token:           tok,
		Challenge:       ch,
		Message:         msgDoubleAuthRequired,
	}, nil
}

// fetchChallenge gets the QCM question, trying every token carrier the upstream is known to expect.
func (e *Engine) fetchChallenge(ctx context.Context, tok string, pend PendingChallenge) (*Challenge, error) {
	for i, c := range carriers {
		req := upstream.Request{
			Path:      doubleAuthPath,
			Query:     url.Values{"verbe": {"get"}},
			SendToken: true,
			Cookies:   pend.CarrierCookies,
			Timeout:   e.timeout,
		}
		if c.gtkOnly {
			req.Cookies = pend.GTKCookies
		}
		if c.twoFAHeader {
			req.TwoFAToken = tok
		} else {
			req.Token = tok
		}

		resp, err := e.client.Call(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "fetching double authentication question")
		}
		if resp.Code == upstream.CodeTokenExpired {
			e.logger.Debug("double authentication carrier rejected", map[string]interface{}{"attempt": i + 1})
			continue
		}
		if !resp.OK() {
			return nil, nil
		}
		ch, ok := parseChallenge(resp.Data)
		if !ok {
			return nil, nil
		}
		return ch, nil
	}
	return nil, nil
}

// SubmitDoubleAuth answers the challenge issued under token with the option's raw value.
// The pending challenge is consumed whatever the outcome.
func (e *Engine) SubmitDoubleAuth(ctx context.Context, deviceID, token, choice string) (Result, error) {
	pend, err := e.pending.Take(ctx, token)
	if err != nil {
		if errors.Cause(err) == ErrChallengeNotFound {
			return failed(ErrChallengeNotFound.Error()), ErrChallengeNotFound
		}
		return failed(msgDoubleAuthFailed), errors.Wrap(err, "taking pending challenge")
	}
	if pend.DeviceID != deviceID {
		return failed(ErrChallengeNotFound.Error()), ErrChallengeNotFound
	}

	resp, err := e.client.Call(ctx, upstream.Request{
		Path:       doubleAuthPath,
		Query:      url.Values{"verbe": {"post"}},
		SendToken:  true,
		TwoFAToken: token,
		Cookies:    pend.CarrierCookies,
		Body:       answerRequest{Choice: choice},
		Timeout:    e.timeout,
	})
	if err != nil {
		return failed(msgUnreachable), errors.Wrap(err, "submitting double authentication answer")
	}

	creds := Credentials{Identifier: pend.Identifier, Secret: pend.Secret}
	var fa FAPair
	if resp.OK() {
		_ = resp.DecodeData(&fa)
	}

	switch {
	case resp.OK() && fa.CN != "" && fa.CV != "":
		// resolution pair: log in again with it
		creds.FA = []FAPair{fa}
		return e.login(ctx, deviceID, creds, false)
	case resp.OK() && resp.Token != "":
		return e.authenticate(ctx, deviceID, creds, resp), nil
	}
	return failed(rejectionMessage(resp.Envelope, msgDoubleAuthFailed)), nil
}

func (e *Engine) discard(ctx context.Context, token string) {
	if err := e.pending.Delete(ctx, token); err != nil {
		e.logger.Error("discarding pending challenge", errors.Wrap(err, "pending store"))
	}
}

func rejectionMessage(env upstream.Envelope, fallback string) string {
	if env.Message != "" {
		return env.Message
	}
	return fallback
}
