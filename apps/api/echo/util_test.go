package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/edmm/apps/api/echo"
	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/datasync"
	"github.com/trezcool/edmm/core/recovery"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
	inmemdb "github.com/trezcool/edmm/storage/database/inmem"
	"github.com/trezcool/edmm/testutil"
)

const devID = "4b1f8a52-3c3e-4f5e-9d7a-1f2e3d4c5b6a"

type fixture struct {
	ed       *testutil.EcoleDirecte
	sessions *session.Store
	store    *cache.Store
	done     *datasync.DoneTracker
	logger   *testutil.Logger
	srv      *echoapi.Server
}

func setup(t *testing.T, opts ...func(conf *core.Config)) *fixture {
	t.Helper()
	f := &fixture{ed: testutil.NewEcoleDirecte(t), logger: testutil.NewLogger()}

	conf := &core.Config{
		TestMode:      true,
		Server:        core.ServerConfig{LoginRate: 10, LoginBurst: 100},
		SyncKeepAlive: time.Second,
	}
	for _, opt := range opts {
		opt(conf)
	}

	db := inmemdb.Open()
	client := upstream.NewClient(f.ed.Config(), nil)
	pending := auth.NewMemoryPendingStore(time.Minute)
	t.Cleanup(pending.Close)

	f.sessions = session.NewStore(inmemdb.NewSessionRepository(db), f.logger, 0)
	authEngine := auth.NewEngine(client, pending, auth.NewMemoryCredentialStore(), f.sessions, f.logger, time.Second)
	guard := recovery.NewGuard(client, authEngine, f.sessions, f.logger, nil)
	f.store = cache.NewStore(inmemdb.NewCacheRepository(db), f.logger, 0)
	f.done = datasync.NewDoneTracker(f.store, f.logger, 10*time.Millisecond)

	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)

	f.srv = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         f.logger,
		Auth:           authEngine,
		Sessions:       f.sessions,
		Sync:           datasync.NewEngine(guard, f.store, f.done, f.logger, nil),
		Done:           f.done,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	t.Cleanup(func() {
		_ = f.srv.Close()
		_ = f.done.Flush(context.Background())
		f.store.Wait()
	})
	return f
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	device   string
	wantCode int
	wantData []byte
}

func newDeviceRequest(method, path, device string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set(echoapi.HeaderDeviceID, device)
	}
	return req, httptest.NewRecorder()
}

func (f *fixture) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newDeviceRequest(method, path, devID, data...)
	f.srv.ServeHTTP(rec, req)
	return rec
}

// login logs devID in as alice through the API.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/login", marshalObj(t, map[string]string{"identifier": "alice", "secret": "correct-pw"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res auth.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("%s %s; code = %d; want = %d (%s)", tt.method, tt.path, rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData != nil {
		ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
		if assert.NoError(t, err) && !ok {
			t.Errorf("%s %s; data = %s; want = %s", tt.method, tt.path, rec.Body.String(), tt.wantData)
		}
	}
}

func runHTTPTests(t *testing.T, f *fixture, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newDeviceRequest(tt.method, tt.path, tt.device, tt.body)
			f.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
