package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func (h *handlers) getDone(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, h.Done.Load(ctx.Request().Context(), getSession(ctx).UserID))
}

func (h *handlers) setDone(ctx echo.Context) error {
	var data doneRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to doneRequest")
	}
	if err := data.Validate(h.Validate); err != nil {
		return err
	}
	flags := h.Done.Set(ctx.Request().Context(), getSession(ctx).UserID, data.Key, data.Done)
	return ctx.JSON(http.StatusOK, flags)
}
