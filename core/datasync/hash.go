package datasync

import (
	"bytes"
	"encoding/json"
	"unicode/utf16"
)

// Hash is the 32-bit rolling hash h = h*31 + unit over the UTF-16 code units of the
// compact form of payload, wrapping around on overflow. Invalid JSON is hashed as is.
func Hash(payload json.RawMessage) int32 {
	var buf bytes.Buffer
	text := string(payload)
	if err := json.Compact(&buf, payload); err == nil {
		text = buf.String()
	}

	var h int32
	for _, unit := range utf16.Encode([]rune(text)) {
		h = h*31 + int32(unit)
	}
	return h
}
