package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/edmm/core"
)

// QCM configures the double authentication of the fake upstream.
type QCM struct {
	Question string
	Options  []string
	Answer   string
	CN, CV   string

	// Accept tells whether the intermediate token is carried the way the upstream expects
	// on the question fetch. Defaults to the X-Token header.
	Accept func(r *http.Request, token string) bool
	// DirectToken makes a correct answer yield a session token instead of the cn/cv pair.
	DirectToken bool
}

// UpstreamCall is a request received by the fake upstream.
type UpstreamCall struct {
	Path   string
	Query  url.Values
	Header http.Header
	Data   map[string]interface{}
}

// EcoleDirecte is a scripted fake of the school API.
type EcoleDirecte struct {
	Server *httptest.Server

	mu            sync.Mutex
	identifier    string
	secret        string
	account       map[string]interface{}
	qcm           *QCM
	data          map[string]interface{}
	rotate        bool
	tokenInHeader bool
	down          bool
	loginCode     int
	loginMessage  string

	seq     int
	tokens  map[string]bool
	pending map[string]bool
	calls   []UpstreamCall
}

// NewEcoleDirecte starts a fake upstream accepting alice/correct-pw, a student account (id 42).
func NewEcoleDirecte(t *testing.T) *EcoleDirecte {
	ed := &EcoleDirecte{
		identifier: "alice",
		secret:     "correct-pw",
		account:    StudentAccount(42, "Alice", "Dupont"),
		data:       make(map[string]interface{}),
		tokens:     make(map[string]bool),
		pending:    make(map[string]bool),
	}
	ed.Server = httptest.NewServer(http.HandlerFunc(ed.serve))
	t.Cleanup(ed.Server.Close)
	return ed
}

// StudentAccount builds an upstream student account record.
func StudentAccount(id int, firstName, lastName string) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"typeCompte": "E",
		"prenom":     firstName,
		"nom":        lastName,
		"profile":    map[string]interface{}{},
	}
}

// GuardianAccount builds an upstream guardian account record with its children.
func GuardianAccount(id int, firstName, lastName string, children ...map[string]interface{}) map[string]interface{} {
	eleves := make([]interface{}, 0, len(children))
	for _, c := range children {
		eleves = append(eleves, c)
	}
	return map[string]interface{}{
		"id":         id,
		"typeCompte": "1",
		"prenom":     firstName,
		"nom":        lastName,
		"profile":    map[string]interface{}{"eleves": eleves},
	}
}

// Config returns an upstream configuration targeting the fake.
func (ed *EcoleDirecte) Config() core.UpstreamConfig {
	return core.UpstreamConfig{
		BaseURL:      ed.Server.URL + "/v3",
		Version:      "4.75.0",
		UserAgent:    "edmm-test",
		Timeout:      2 * time.Second,
		LoginTimeout: 2 * time.Second,
	}
}

func (ed *EcoleDirecte) SetCredentials(identifier, secret string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.identifier, ed.secret = identifier, secret
}

func (ed *EcoleDirecte) SetAccount(account map[string]interface{}) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.account = account
}

func (ed *EcoleDirecte) SetQCM(qcm *QCM) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.qcm = qcm
}

// SetData sets the payload served for a domain: grades, homework, schedule, viescolaire, messages, message.
func (ed *EcoleDirecte) SetData(domain string, v interface{}) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.data[domain] = v
}

// RotateTokens makes every data call answer with a new token in the X-Token header,
// invalidating the previous one.
func (ed *EcoleDirecte) RotateTokens(rotate bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.rotate = rotate
}

// TokenInHeader makes the login answer carry its token in the X-Token header and a stale one in the body.
func (ed *EcoleDirecte) TokenInHeader(v bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.tokenInHeader = v
}

// SetDown makes every route answer an HTML 503.
func (ed *EcoleDirecte) SetDown(down bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.down = down
}

// FailLogin makes the credentials POST answer code with message.
func (ed *EcoleDirecte) FailLogin(code int, message string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.loginCode, ed.loginMessage = code, message
}

// IssueToken returns a new valid session token.
func (ed *EcoleDirecte) IssueToken() string {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.issue()
}

func (ed *EcoleDirecte) issue() string {
	ed.seq++
	tok := fmt.Sprintf("T%d", ed.seq)
	ed.tokens[tok] = true
	return tok
}

// ExpireTokens invalidates every session token issued so far.
func (ed *EcoleDirecte) ExpireTokens() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.tokens = make(map[string]bool)
}

// Calls returns the received requests whose path ends with suffix.
func (ed *EcoleDirecte) Calls(suffix string) []UpstreamCall {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	var calls []UpstreamCall
	for _, c := range ed.calls {
		if strings.HasSuffix(c.Path, suffix) {
			calls = append(calls, c)
		}
	}
	return calls
}

// PendingChallenges returns the number of double authentications not answered yet.
func (ed *EcoleDirecte) PendingChallenges() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return len(ed.pending)
}

// B64 encodes s the way the upstream encodes QCM texts.
func B64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (ed *EcoleDirecte) serve(w http.ResponseWriter, r *http.Request) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	call := UpstreamCall{
		Path:   strings.TrimPrefix(r.URL.Path, "/v3/"),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	if body, _ := io.ReadAll(r.Body); len(body) > 0 {
		_ = json.Unmarshal([]byte(strings.TrimPrefix(string(body), "data=")), &call.Data)
	}
	ed.calls = append(ed.calls, call)

	if ed.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>Service Unavailable</html>"))
		return
	}

	switch {
	case call.Path == "login.awp" && call.Query.Get("gtk") == "1":
		ed.serveGTK(w)
	case call.Path == "login.awp":
		ed.serveLogin(w, r, call)
	case call.Path == "connexion/doubleauth.awp" && call.Query.Get("verbe") == "get":
		ed.serveQuestion(w, r)
	case call.Path == "connexion/doubleauth.awp":
		ed.serveAnswer(w, r, call)
	default:
		ed.serveData(w, r, call)
	}
}

func reply(w http.ResponseWriter, v map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (ed *EcoleDirecte) serveGTK(w http.ResponseWriter) {
	ed.seq++
	http.SetCookie(w, &http.Cookie{Name: "GTK", Value: fmt.Sprintf("gtk-%d", ed.seq), Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "SRV", Value: "edsrv1", Path: "/"})
	reply(w, map[string]interface{}{"code": 200, "data": map[string]interface{}{}})
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

func (ed *EcoleDirecte) hasFA(data map[string]interface{}) bool {
	fa, _ := data["fa"].([]interface{})
	for _, f := range fa {
		pair, _ := f.(map[string]interface{})
		if pair["cn"] == ed.qcm.CN && pair["cv"] == ed.qcm.CV {
			return true
		}
	}
	return false
}

func (ed *EcoleDirecte) serveLogin(w http.ResponseWriter, r *http.Request, call UpstreamCall) {
	gtk := r.Header.Get("X-Gtk")
	if gtk == "" || gtk != cookieValue(r, "GTK") {
		reply(w, map[string]interface{}{"code": 505, "message": "GTK invalide"})
		return
	}
	if ed.loginCode != 0 {
		reply(w, map[string]interface{}{"code": ed.loginCode, "message": ed.loginMessage})
		return
	}
	if call.Data["identifiant"] != ed.identifier || call.Data["motdepasse"] != ed.secret {
		reply(w, map[string]interface{}{"code": 505, "message": "Identifiant et/ou mot de passe invalide !"})
		return
	}

	if ed.qcm != nil && !ed.hasFA(call.Data) {
		ed.seq++
		tok := fmt.Sprintf("tmp-%d", ed.seq)
		ed.pending[tok] = true
		http.SetCookie(w, &http.Cookie{Name: "2FA", Value: tok, Path: "/"})
		reply(w, map[string]interface{}{"code": 250, "token": tok, "message": ""})
		return
	}
	ed.authenticated(w)
}

func (ed *EcoleDirecte) authenticated(w http.ResponseWriter) {
	tok := ed.issue()
	bodyToken := tok
	if ed.tokenInHeader {
		w.Header().Set("X-Token", tok)
		bodyToken = "stale-body-token"
	}
	reply(w, map[string]interface{}{
		"code":  200,
		"token": bodyToken,
		"data":  map[string]interface{}{"accounts": []interface{}{ed.account}},
	})
}

func (ed *EcoleDirecte) serveQuestion(w http.ResponseWriter, r *http.Request) {
	tok := r.Header.Get("X-Token")
	if tok == "" {
		tok = r.Header.Get("2FA-Token")
	}
	accept := ed.qcm.Accept
	if accept == nil {
		accept = func(r *http.Request, token string) bool { return r.Header.Get("X-Token") == token }
	}
	if !ed.pending[tok] || !accept(r, tok) {
		reply(w, map[string]interface{}{"code": 520, "message": "Token invalide !"})
		return
	}

	props := make([]string, 0, len(ed.qcm.Options))
	for _, o := range ed.qcm.Options {
		props = append(props, B64(o))
	}
	reply(w, map[string]interface{}{
		"code": 200,
		"data": map[string]interface{}{"question": B64(ed.qcm.Question), "propositions": props},
	})
}

func (ed *EcoleDirecte) serveAnswer(w http.ResponseWriter, r *http.Request, call UpstreamCall) {
	tok := r.Header.Get("2FA-Token")
	if !ed.pending[tok] {
		reply(w, map[string]interface{}{"code": 520, "message": "Token invalide !"})
		return
	}
	delete(ed.pending, tok)

	if call.Data["choix"] != B64(ed.qcm.Answer) {
		reply(w, map[string]interface{}{"code": 505, "message": "Mauvaise réponse"})
		return
	}
	if ed.qcm.DirectToken {
		ed.authenticated(w)
		return
	}
	reply(w, map[string]interface{}{
		"code": 200,
		"data": map[string]interface{}{"cn": ed.qcm.CN, "cv": ed.qcm.CV},
	})
}

func dataDomain(path string) string {
	switch {
	case strings.HasSuffix(path, "/notes.awp"):
		return "grades"
	case strings.HasSuffix(path, "/cahierdetexte.awp"):
		return "homework"
	case strings.HasSuffix(path, "/emploidutemps.awp"):
		return "schedule"
	case strings.HasSuffix(path, "/viescolaire.awp"):
		return "viescolaire"
	case strings.HasSuffix(path, "/messages.awp"):
		return "messages"
	case strings.Contains(path, "/messages/"):
		return "message"
	}
	return ""
}

func (ed *EcoleDirecte) serveData(w http.ResponseWriter, r *http.Request, call UpstreamCall) {
	domain := dataDomain(call.Path)
	if domain == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tok := r.Header.Get("X-Token")
	if !ed.tokens[tok] {
		reply(w, map[string]interface{}{"code": 520, "message": "Token invalide !"})
		return
	}

	if ed.rotate {
		delete(ed.tokens, tok)
		tok = ed.issue()
		w.Header().Set("X-Token", tok)
	}
	data, ok := ed.data[domain]
	if !ok {
		data = map[string]interface{}{}
	}
	reply(w, map[string]interface{}{"code": 200, "token": tok, "data": data})
}
