package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const defaultQuestion = "Vérification de sécurité"

type qcmData struct {
	Question     string   `json:"question"`
	Propositions []string `json:"propositions"`
}

// decodeB64 decodes an upstream QCM text. Multi-byte characters are kept;
// anything that is not valid base64 of UTF-8 text is returned as is.
func decodeB64(s string) string {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	if !utf8.Valid(b) {
		// latin-1 fallback, byte per rune
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes)
	}
	return string(b)
}

// parseChallenge decodes the question fetched during double authentication.
func parseChallenge(data json.RawMessage) (*Challenge, bool) {
	var qd qcmData
	if len(data) == 0 || json.Unmarshal(data, &qd) != nil {
		return nil, false
	}
	if qd.Question == "" && len(qd.Propositions) == 0 {
		return nil, false
	}

	ch := &Challenge{
		QuestionText: defaultQuestion,
		Options:      make([]Option, 0, len(qd.Propositions)),
	}
	if qd.Question != "" {
		ch.QuestionText = decodeB64(qd.Question)
	}
	for _, p := range qd.Propositions {
		ch.Options = append(ch.Options, Option{DisplayText: decodeB64(p), RawValue: p})
	}
	return ch, true
}
