package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/recovery"
)

const mimeEventStream = "text/event-stream"

// SSE events of /api/data.
const (
	eventDelivery = "delivery"
	eventError    = "error"
	eventEnd      = "end"
)

// streamError is the failure of a streamed fetch.
type streamError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reauth  bool   `json:"reauth,omitempty"`
}

func (h *handlers) bindQuery(ctx echo.Context) (datasync.Query, error) {
	var data dataQuery
	if err := ctx.Bind(&data); err != nil {
		return datasync.Query{}, errors.Wrap(err, "binding to dataQuery")
	}
	if err := data.Validate(h.Validate); err != nil {
		return datasync.Query{}, err
	}
	return data.query(ctx.Param("domain"))
}

// syncData streams the deliveries of a sync to event-stream clients.
// Other clients get the last delivery once the sync is over.
func (h *handlers) syncData(ctx echo.Context) error {
	q, err := h.bindQuery(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(ctx.Request().Header.Get(echo.HeaderAccept), mimeEventStream) {
		return h.syncJSON(ctx, q)
	}
	return h.syncStream(ctx, q)
}

func (h *handlers) syncJSON(ctx echo.Context, q datasync.Query) error {
	var (
		last      datasync.Delivery
		delivered bool
	)
	err := h.Sync.Sync(ctx.Request().Context(), getSession(ctx), q, func(d datasync.Delivery) {
		last, delivered = d, true
	})
	if err != nil {
		return err
	}
	if !delivered {
		return ctx.NoContent(http.StatusNoContent)
	}
	return ctx.JSON(http.StatusOK, fetchResult{Success: true, Data: last})
}

func (h *handlers) syncStream(ctx echo.Context, q datasync.Query) error {
	// unknown domains fail before the stream is opened
	if _, err := q.Normalize(time.Now()); err != nil {
		return err
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, mimeEventStream)
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	var mu sync.Mutex
	send := func(event string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			h.Logger.Error("encoding event", errors.Wrap(err, event))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data)
		res.Flush()
	}

	reqCtx := ctx.Request().Context()
	sess := getSession(ctx)
	done := make(chan error, 1)
	go func() {
		done <- h.Sync.Sync(reqCtx, sess, q, func(d datasync.Delivery) {
			send(eventDelivery, fetchResult{Success: true, Data: d})
		})
	}()

	keepAlive := h.Conf.SyncKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				send(eventError, streamError{
					Message: errors.Cause(err).Error(),
					Reauth:  errors.Cause(err) == recovery.ErrReauthRequired,
				})
				if errors.Cause(err) != context.Canceled {
					h.Logger.Warn("sync failed", err, deviceFields(ctx))
				}
			}
			send(eventEnd, echo.Map{"domain": q.Domain})
			return nil
		case <-ticker.C:
			mu.Lock()
			fmt.Fprint(res, ": keepalive\n\n")
			res.Flush()
			mu.Unlock()
		}
	}
}

// cachedData returns the cached delivery without calling the school server.
func (h *handlers) cachedData(ctx echo.Context) error {
	q, err := h.bindQuery(ctx)
	if err != nil {
		return err
	}
	d, ok, err := h.Sync.LoadCache(ctx.Request().Context(), getSession(ctx).UserID, q)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, fetchResult{Success: true, Data: d})
}

func (h *handlers) readMessage(ctx echo.Context) error {
	var data messageQuery
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to messageQuery")
	}
	if err := data.Validate(h.Validate); err != nil {
		return err
	}

	msg, err := h.Sync.ReadMessage(ctx.Request().Context(), getSession(ctx), data.ID, data.Mode)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, fetchResult{Success: true, Data: msg})
}
