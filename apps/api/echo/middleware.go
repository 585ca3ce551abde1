package echoapi

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/edmm/core/session"
)

// HeaderDeviceID identifies the browser installation a request comes from.
const HeaderDeviceID = "X-Device-Id"

const (
	ctxDeviceKey  = "device"
	ctxSessionKey = "session"
	ctxFetchKey   = "fetch"
)

// deviceMiddleware requires a UUID device id on every request.
func deviceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := uuid.Parse(ctx.Request().Header.Get(HeaderDeviceID))
			if err != nil {
				return errMissingDevice
			}
			ctx.Set(ctxDeviceKey, id.String())
			return next(ctx)
		}
	}
}

// sessionMiddleware loads the session of the device, answering 401 without one.
func sessionMiddleware(sessions *session.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess, ok := sessions.Get(ctx.Request().Context(), getDeviceID(ctx))
			if !ok {
				return errUnauthorized
			}
			ctx.Set(ctxSessionKey, sess)
			return next(ctx)
		}
	}
}

// fetchMiddleware marks domain fetches, whose failures are answered as {success:false, message}.
func fetchMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctx.Set(ctxFetchKey, true)
			return next(ctx)
		}
	}
}

func isFetch(ctx echo.Context) bool {
	fetch, _ := ctx.Get(ctxFetchKey).(bool)
	return fetch
}

func getDeviceID(ctx echo.Context) string {
	id, _ := ctx.Get(ctxDeviceKey).(string)
	return id
}

func getSession(ctx echo.Context) session.Session {
	sess, _ := ctx.Get(ctxSessionKey).(session.Session)
	return sess
}
