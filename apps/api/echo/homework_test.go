package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHomeworkDone(t *testing.T) {
	f := setup(t)
	f.login(t)

	runHTTPTests(t, f, []httpTest{
		{
			name:     "empty",
			method:   http.MethodGet,
			path:     "/api/homework/done",
			device:   devID,
			wantCode: http.StatusOK,
			wantData: []byte(`{}`),
		},
		{
			name:     "tick",
			method:   http.MethodPut,
			path:     "/api/homework/done",
			body:     []byte(`{"key": "2024-03-11:1234", "done": true}`),
			device:   devID,
			wantCode: http.StatusOK,
			wantData: []byte(`{"2024-03-11:1234": true}`),
		},
		{
			name:     "tick another",
			method:   http.MethodPut,
			path:     "/api/homework/done",
			body:     []byte(`{"key": "2024-03-12:99", "done": true}`),
			device:   devID,
			wantCode: http.StatusOK,
			wantData: []byte(`{"2024-03-11:1234": true, "2024-03-12:99": true}`),
		},
		{
			name:     "untick",
			method:   http.MethodPut,
			path:     "/api/homework/done",
			body:     []byte(`{"key": "2024-03-11:1234", "done": false}`),
			device:   devID,
			wantCode: http.StatusOK,
			wantData: []byte(`{"2024-03-12:99": true}`),
		},
		{
			name:     "missing key",
			method:   http.MethodPut,
			path:     "/api/homework/done",
			body:     []byte(`{"done": true}`),
			device:   devID,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"key": "this field is required"}`),
		},
		{
			name:     "read back",
			method:   http.MethodGet,
			path:     "/api/homework/done",
			device:   devID,
			wantCode: http.StatusOK,
			wantData: []byte(`{"2024-03-12:99": true}`),
		},
	})

	assert.NoError(t, f.done.Flush(context.Background()))
}
