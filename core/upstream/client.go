package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
)

// Upstream headers.
const (
	HeaderToken    = "X-Token"
	Header2FAToken = "2FA-Token"
	HeaderGTK      = "X-Gtk"

	gtkCookieName = "GTK"
	maxBodyBytes  = 16 << 20
)

type (
	// Request describes one upstream call.
	// Token and GTK headers are always sent when SendToken/GTK are set, even empty.
	Request struct {
		Method     string // defaults to POST
		Path       string // e.g. "/login.awp"
		Query      url.Values
		Token      string
		SendToken  bool
		TwoFAToken string
		GTK        string
		Cookies    []string // name=value
		Body       interface{}
		Timeout    time.Duration
	}

	// Response is a decoded upstream answer.
	Response struct {
		Envelope
		Token   string   // token-of-record for the next call
		Cookies []string // name=value pairs set by the response
		Header  http.Header
	}

	// Caller is satisfied by *Client.
	Caller interface {
		Call(ctx context.Context, req Request) (*Response, error)
	}

	// Observer is notified after every call that reached the upstream.
	Observer func(path string, code int, took time.Duration)

	Client struct {
		baseURL   string
		version   string
		userAgent string
		timeout   time.Duration
		http      *http.Client
		observe   Observer
	}
)

var _ Caller = (*Client)(nil)

// NewClient returns a Client for the configured upstream.
func NewClient(conf core.UpstreamConfig, observe Observer) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if conf.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // nolint:gosec
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(conf.BaseURL, "/"),
		version:   conf.Version,
		userAgent: conf.UserAgent,
		timeout:   timeout,
		http:      &http.Client{Transport: transport},
		observe:   observe,
	}
}

// Call issues req and decodes the response envelope.
// Any failure to obtain an envelope is a *TransportError.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, &TransportError{Path: req.Path, Err: err}
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Path: req.Path, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Path: req.Path, Err: errors.Wrap(err, "reading body")}
	}

	var env Envelope
	if err = json.Unmarshal(body, &env); err != nil {
		return nil, &TransportError{
			Path: req.Path,
			Err:  errors.Wrapf(err, "decoding envelope (HTTP %d)", httpResp.StatusCode),
		}
	}
	if c.observe != nil {
		c.observe(req.Path, env.Code, time.Since(start))
	}

	return &Response{
		Envelope: env,
		Token:    resolveToken(env, httpResp.Header),
		Cookies:  cookiePairs(httpResp),
		Header:   httpResp.Header,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	q := make(url.Values, len(req.Query)+1)
	for k, vs := range req.Query {
		q[k] = append([]string(nil), vs...)
	}
	if c.version != "" {
		q.Set("v", c.version)
	}
	u := c.baseURL + "/" + strings.TrimLeft(req.Path, "/") + "?" + q.Encode()

	var body io.Reader
	if method != http.MethodGet {
		payload := []byte("{}")
		if req.Body != nil {
			var err error
			if payload, err = json.Marshal(req.Body); err != nil {
				return nil, errors.Wrap(err, "encoding body")
			}
		}
		// the upstream reads the raw JSON after "data=", it is not form-escaped
		body = bytes.NewReader(append([]byte("data="), payload...))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.SendToken || req.Token != "" {
		httpReq.Header.Set(HeaderToken, req.Token)
	}
	if req.TwoFAToken != "" {
		httpReq.Header.Set(Header2FAToken, req.TwoFAToken)
	}
	if req.GTK != "" {
		httpReq.Header.Set(HeaderGTK, req.GTK)
	}
	if len(req.Cookies) > 0 {
		httpReq.Header.Set("Cookie", strings.Join(req.Cookies, "; "))
	}
	return httpReq, nil
}

// cookiePairs keeps the name=value part of every Set-Cookie header.
func cookiePairs(resp *http.Response) []string {
	raw := resp.Header.Values("Set-Cookie")
	pairs := make([]string, 0, len(raw))
	for _, c := range raw {
		if pair := strings.TrimSpace(strings.SplitN(c, ";", 2)[0]); pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// GTKValue returns the value of the GTK cookie among cookies, if any.
func GTKValue(cookies []string) string {
	for _, c := range cookies {
		if strings.HasPrefix(c, gtkCookieName+"=") {
			return strings.TrimPrefix(c, gtkCookieName+"=")
		}
	}
	return ""
}
