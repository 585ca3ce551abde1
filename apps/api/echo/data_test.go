package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/session"
)

var grades = map[string]interface{}{
	"notes": []interface{}{map[string]interface{}{"devoir": "Contrôle", "valeur": "15,5"}},
}

func TestData_Validation(t *testing.T) {
	f := setup(t)
	f.login(t)

	tests := []httpTest{
		{
			name:     "unknown domain",
			method:   http.MethodGet,
			path:     "/api/data/weather",
			device:   devID,
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, map[string]interface{}{
				"success": false,
				"message": "weather: " + datasync.ErrUnknownDomain.Error(),
			}),
		},
		{
			name:     "week is not a monday",
			method:   http.MethodGet,
			path:     "/api/data/schedule?week=2024-03-13",
			device:   devID,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"week": "week must be a Monday formatted as YYYY-MM-DD"}),
		},
		{
			name:     "year is not a school year",
			method:   http.MethodGet,
			path:     "/api/data/grades?year=2023-2025",
			device:   devID,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"year": "year must be a school year such as 2023-2024"}),
		},
		{
			name:     "unknown mailbox",
			method:   http.MethodGet,
			path:     "/api/data/messages?box=spam",
			device:   devID,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown device",
			method:   http.MethodGet,
			path:     "/api/data/grades",
			device:   "0e0e0e0e-0e0e-4e0e-8e0e-0e0e0e0e0e0e",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "not logged in"}),
		},
	}
	runHTTPTests(t, f, tests)
}

type deliveryResult struct {
	Success bool              `json:"success"`
	Data    datasync.Delivery `json:"data"`
	Message string            `json:"message"`
}

func TestData_JSON(t *testing.T) {
	f := setup(t)
	f.login(t)
	f.ed.SetData("grades", grades)

	rec := f.do(http.MethodGet, "/api/data/grades")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res deliveryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "grades", res.Data.Domain)
	assert.Equal(t, datasync.SourceUpstream, res.Data.Source)
	assert.Contains(t, string(res.Data.Data), "Contrôle")

	f.store.Wait()
	rec = f.do(http.MethodGet, "/api/cache/grades")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = deliveryResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, datasync.SourceCache, res.Data.Source)

	rec = f.do(http.MethodGet, "/api/cache/homework")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	res = deliveryResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "not found", res.Message)
}

func TestData_ReauthRequired(t *testing.T) {
	f := setup(t)
	// a session restored from the database has no credentials attached
	f.sessions.Upsert(context.Background(), session.Session{DeviceID: devID, UserID: "42", Token: "expired"})

	rec := f.do(http.MethodGet, "/api/data/grades")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var res deliveryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "session expired, log in again", res.Message)
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

func (f *fixture) stream(t *testing.T, path string) []sseEvent {
	t.Helper()
	req, rec := newDeviceRequest(http.MethodGet, path, devID)
	req.Header.Set("Accept", "text/event-stream")
	f.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	return parseEvents(rec.Body.String())
}

func TestData_Stream(t *testing.T) {
	f := setup(t)
	f.login(t)
	f.ed.SetData("grades", grades)

	events := f.stream(t, "/api/data/grades")
	require.Len(t, events, 2)
	assert.Equal(t, "delivery", events[0].name)
	assert.Contains(t, events[0].data, `"success":true`)
	assert.Contains(t, events[0].data, `"source":"upstream"`)
	assert.Equal(t, "end", events[1].name)

	// unchanged upstream payload: only the cache is delivered
	f.store.Wait()
	events = f.stream(t, "/api/data/grades")
	require.Len(t, events, 2)
	assert.Contains(t, events[0].data, `"source":"cache"`)
	assert.Equal(t, "end", events[1].name)

	// changed payload: cache first, then upstream
	f.store.Wait()
	f.ed.SetData("grades", map[string]interface{}{"notes": []interface{}{}})
	events = f.stream(t, "/api/data/grades")
	require.Len(t, events, 3)
	assert.Contains(t, events[0].data, `"source":"cache"`)
	assert.Contains(t, events[1].data, `"source":"upstream"`)
}

func TestData_StreamError(t *testing.T) {
	f := setup(t)
	f.sessions.Upsert(context.Background(), session.Session{DeviceID: devID, UserID: "42", Token: "expired"})

	events := f.stream(t, "/api/data/homework")
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, `"success":false`)
	assert.Contains(t, events[0].data, `"reauth":true`)
	assert.Equal(t, "end", events[1].name)
}

func TestReadMessage(t *testing.T) {
	f := setup(t)
	f.login(t)
	f.ed.SetData("message", map[string]interface{}{"id": 123, "subject": "Sortie scolaire"})

	runHTTPTests(t, f, []httpTest{
		{
			name:     "ok",
			method:   http.MethodGet,
			path:     "/api/messages/123",
			device:   devID,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, map[string]interface{}{
				"success": true,
				"data":    map[string]interface{}{"id": 123, "subject": "Sortie scolaire"},
			}),
		},
		{
			name:     "sent mode",
			method:   http.MethodGet,
			path:     "/api/messages/123?mode=expediteur",
			device:   devID,
			wantCode: http.StatusOK,
		},
		{
			name:     "invalid id",
			method:   http.MethodGet,
			path:     "/api/messages/abc",
			device:   devID,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "invalid mode",
			method:   http.MethodGet,
			path:     "/api/messages/123?mode=everyone",
			device:   devID,
			wantCode: http.StatusBadRequest,
		},
	})
}
