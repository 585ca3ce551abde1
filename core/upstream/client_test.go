package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edmm/core"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *[]string) {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	var observed []string
	c := NewClient(core.UpstreamConfig{
		BaseURL:   srv.URL + "/v3/",
		Version:   "4.75.0",
		UserAgent: "edmm-test",
		Timeout:   time.Second,
	}, func(path string, code int, _ time.Duration) {
		observed = append(observed, path)
	})
	return c, &observed
}

func TestClient_Call_request(t *testing.T) {
	var got *http.Request
	var gotBody string
	c, observed := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got, gotBody = r, string(b)
		_, _ = w.Write([]byte(`{"code":200,"token":"","data":{}}`))
	})

	_, err := c.Call(context.Background(), Request{
		Path:      "/login.awp",
		SendToken: true,
		GTK:       "gtk-1",
		Cookies:   []string{"GTK=gtk-1", "other=x"},
		Body:      map[string]string{"identifiant": "alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v3/login.awp", got.URL.Path)
	assert.Equal(t, "4.75.0", got.URL.Query().Get("v"))
	assert.Equal(t, "edmm-test", got.Header.Get("User-Agent"))
	assert.Equal(t, "application/x-www-form-urlencoded", got.Header.Get("Content-Type"))
	assert.Equal(t, "gtk-1", got.Header.Get(HeaderGTK))
	assert.Contains(t, got.Header, HeaderToken)
	assert.Empty(t, got.Header.Get(HeaderToken))
	assert.Equal(t, "GTK=gtk-1; other=x", got.Header.Get("Cookie"))
	assert.Equal(t, `data={"identifiant":"alice"}`, gotBody)
	assert.Equal(t, []string{"/login.awp"}, *observed)
}

func TestClient_Call_emptyBodyAndGet(t *testing.T) {
	var bodies []string
	var methods []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		methods = append(methods, r.Method)
		_, _ = w.Write([]byte(`{"code":200}`))
	})

	_, err := c.Call(context.Background(), Request{Path: "cahierdetexte.awp"})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), Request{Method: http.MethodGet, Path: "login.awp"})
	require.NoError(t, err)

	assert.Equal(t, []string{"data={}", ""}, bodies)
	assert.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
}

func TestClient_Call_tokenResolution(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		body      string
		wantToken string
	}{
		{name: "none", body: `{"code":200}`},
		{name: "body", body: `{"code":200,"token":"B"}`, wantToken: "B"},
		{name: "data", body: `{"code":200,"data":{"token":"D"}}`, wantToken: "D"},
		{name: "header wins", header: "H", body: `{"code":200,"token":"B","data":{"token":"D"}}`, wantToken: "H"},
		{name: "body wins over data", body: `{"code":200,"token":"B","data":{"token":"D"}}`, wantToken: "B"},
		{name: "data is a list", body: `{"code":200,"data":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set(HeaderToken, tt.header)
				}
				_, _ = w.Write([]byte(tt.body))
			})
			resp, err := c.Call(context.Background(), Request{Path: "x.awp"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, resp.Token)
		})
	}
}

func TestClient_Call_cookies(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "GTK", Value: "abc=def", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "42", HttpOnly: true})
		_, _ = w.Write([]byte(`{"code":200}`))
	})
	resp, err := c.Call(context.Background(), Request{Method: http.MethodGet, Path: "login.awp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"GTK=abc=def", "SESSION=42"}, resp.Cookies)
	assert.Equal(t, "abc=def", GTKValue(resp.Cookies))
	assert.Equal(t, "", GTKValue([]string{"SESSION=42"}))
}

func TestClient_Call_transportErrors(t *testing.T) {
	t.Run("not an envelope", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		})
		_, err := c.Call(context.Background(), Request{Path: "notes.awp"})
		require.Error(t, err)
		assert.True(t, IsTransport(err))
		assert.Contains(t, err.Error(), "HTTP 502")
	})

	t.Run("timeout", func(t *testing.T) {
		done := make(chan struct{})
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-done:
			case <-r.Context().Done():
			}
		})
		defer close(done)
		_, err := c.Call(context.Background(), Request{Path: "notes.awp", Timeout: 50 * time.Millisecond})
		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(core.UpstreamConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)
		_, err := c.Call(context.Background(), Request{Path: "notes.awp"})
		assert.True(t, IsTransport(err))
	})
}

func TestEnvelope_DecodeData(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"code":200,"data":{"a":1}}`), &env))
	var data struct{ A int }
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, 1, data.A)
	assert.True(t, env.OK())

	var empty map[string]int
	assert.NoError(t, Envelope{}.DecodeData(&empty))
	assert.Nil(t, empty)
}

func TestIsServerFailure(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{msg: "Erreur 74000 lors de la connexion", want: true},
		{msg: "Impossible de se connecter au serveur HFSQL", want: true},
		{msg: "Service unavailable (503)", want: true},
		{msg: "Identifiant et/ou mot de passe invalide !"},
		{msg: ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsServerFailure(tt.msg))
		})
	}
}

func TestRejectionError(t *testing.T) {
	assert.Equal(t, "nope", Reject(Envelope{Code: 505, Message: "nope"}).Error())
	assert.True(t, strings.Contains(Reject(Envelope{Code: 505}).Error(), "505"))
}
