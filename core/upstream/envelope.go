package upstream

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Envelope codes.
const (
	CodeOK           = 200
	CodeDoubleAuth   = 250
	CodeTokenExpired = 520
)

// Envelope is the wire shape returned by every upstream call.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK tells whether the envelope is a success.
func (e Envelope) OK() bool {
	return e.Code == CodeOK
}

// DecodeData unmarshals the data field into v.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// resolveToken returns the token-of-record carried by a response:
// the X-Token header wins over the body token, which wins over data.token.
func resolveToken(env Envelope, header http.Header) string {
	if tok := strings.TrimSpace(header.Get(HeaderToken)); tok != "" {
		return tok
	}
	if env.Token != "" {
		return env.Token
	}
	var data struct {
		Token string `json:"token"`
	}
	if len(env.Data) > 0 && env.Data[0] == '{' {
		if err := json.Unmarshal(env.Data, &data); err == nil {
			return data.Token
		}
	}
	return ""
}

var serverFailureMarkers = []string{
	"74000",
	"connexion au serveur",
	"hfsql",
	"fetch",
	"network",
	"500",
	"502",
	"503",
	"504",
}

// IsServerFailure tells whether an upstream message means the upstream itself is down,
// as opposed to a rejection of the caller.
func IsServerFailure(message string) bool {
	msg := strings.ToLower(message)
	for _, marker := range serverFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
