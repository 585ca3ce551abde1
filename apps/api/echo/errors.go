package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/recovery"
	"github.com/trezcool/edmm/core/upstream"
)

var (
	errMissingDevice = echo.NewHTTPError(http.StatusBadRequest, "missing or invalid "+HeaderDeviceID+" header")
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
	errTooManyLogins = echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, retry later")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		var rejection *upstream.RejectionError
		switch {
		case cause == auth.ErrChallengeNotFound:
			code, message = http.StatusBadRequest, cause.Error()
		case cause == recovery.ErrReauthRequired:
			code, message = http.StatusUnauthorized, cause.Error()
		case cause == datasync.ErrUnknownDomain:
			code, message = http.StatusNotFound, err.Error()
		case upstream.IsTransport(err):
			code, message = http.StatusBadGateway, "the school server could not be reached"
			logger.Warn("upstream unreachable", err, deviceFields(ctx))
		case errors.As(err, &rejection):
			code, message = http.StatusBadGateway, rejection.Error()
		}
		if code != 0 {
			respond(ctx, code, message, err)
			return
		}

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if len(origErr.Fields) > 0 {
				message = origErr.FieldMap()
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), deviceFields(ctx))
		}
		respond(ctx, code, message, err)
	}
}

func respond(ctx echo.Context, code int, message interface{}, err error) {
	if ctx.Echo().Debug {
		message = err.Error()
	}
	if m, ok := message.(string); ok {
		if isFetch(ctx) {
			message = fetchResult{Message: m}
		} else {
			message = echo.Map{"error": m}
		}
	}

	// Send response
	if !ctx.Response().Committed {
		if ctx.Request().Method == http.MethodHead { // Issue #608
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, message)
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}

func deviceFields(ctx echo.Context) map[string]interface{} {
	fields := map[string]interface{}{"path": ctx.Path(), "ip": ctx.RealIP()}
	if id, ok := ctx.Get(ctxDeviceKey).(string); ok {
		fields["device"] = id
	}
	return fields
}
