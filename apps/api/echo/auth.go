package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/upstream"
	metricsvc "github.com/trezcool/edmm/services/metrics"
)

const (
	stepCredentials = "login"
	stepDoubleAuth  = "doubleauth"
	outcomeOffline  = "offline"
	outcomeError    = "error"
)

func (h *handlers) login(ctx echo.Context) error {
	var data loginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to loginRequest")
	}
	if err := data.Validate(h.Validate); err != nil {
		return err
	}

	deviceID := getDeviceID(ctx)
	res, err := h.Auth.Login(ctx.Request().Context(), deviceID, data.credentials())
	if offline, ok := h.offlineResult(ctx, res, err); ok {
		metricsvc.ObserveLogin(stepCredentials, outcomeOffline)
		h.Logger.Warn("school server down, serving the stored session", core.Person{ID: deviceID, Username: offline.UserID})
		return ctx.JSON(http.StatusOK, offline)
	}
	if err != nil {
		metricsvc.ObserveLogin(stepCredentials, outcomeError)
		return h.loginFailure(ctx, res, errors.Wrap(err, "logging in"))
	}

	metricsvc.ObserveLogin(stepCredentials, loginOutcome(res))
	return ctx.JSON(http.StatusOK, res)
}

func (h *handlers) doubleAuth(ctx echo.Context) error {
	var data doubleAuthRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to doubleAuthRequest")
	}
	if err := data.Validate(h.Validate); err != nil {
		return err
	}

	res, err := h.Auth.SubmitDoubleAuth(ctx.Request().Context(), getDeviceID(ctx), data.Token, data.Choice)
	if err != nil {
		metricsvc.ObserveLogin(stepDoubleAuth, outcomeError)
		return h.loginFailure(ctx, res, errors.Wrap(err, "answering double authentication"))
	}

	metricsvc.ObserveLogin(stepDoubleAuth, loginOutcome(res))
	return ctx.JSON(http.StatusOK, res)
}

// offlineResult returns the stored session of the device when the login failed because the school
// server is down.
func (h *handlers) offlineResult(ctx echo.Context, res auth.Result, err error) (auth.Result, bool) {
	down := upstream.IsTransport(err) || (err == nil && !res.Success && !res.NeedsDoubleAuth && upstream.IsServerFailure(res.Message))
	if !down {
		return auth.Result{}, false
	}
	sess, ok := h.Sessions.Get(ctx.Request().Context(), getDeviceID(ctx))
	if !ok {
		return auth.Result{}, false
	}
	return auth.Result{
		State:     auth.StateAuthenticated,
		Success:   true,
		Token:     sess.Token,
		UserID:    sess.UserID,
		Account:   sess.Account,
		FirstName: sess.FirstName,
		LastName:  sess.LastName,
		Offline:   true,
	}, true
}

// loginFailure answers an unreachable school server with the failed login result.
// Other errors go to the error handler.
func (h *handlers) loginFailure(ctx echo.Context, res auth.Result, err error) error {
	if !upstream.IsTransport(err) || res.Message == "" {
		return err
	}
	h.Logger.Warn("upstream unreachable", err, deviceFields(ctx))
	return ctx.JSON(http.StatusBadGateway, res)
}

func loginOutcome(res auth.Result) string {
	return strings.ToLower(res.State.String())
}

func (h *handlers) showSession(ctx echo.Context) error {
	sess, ok := h.Sessions.Get(ctx.Request().Context(), getDeviceID(ctx))
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (h *handlers) deleteSession(ctx echo.Context) error {
	h.Auth.Logout(ctx.Request().Context(), getDeviceID(ctx))
	return ctx.NoContent(http.StatusNoContent)
}
