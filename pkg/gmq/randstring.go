package gmq

import (
	"strings"

	"github.com/google/uuid"
)

// RandomAlnum returns an n-character lowercase alphanumeric string
// derived from a UUID, used by DefaultClientID to fill in an MQTT client
// identifier when the caller doesn't supply one.
func RandomAlnum(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(id) < n {
		id += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return id[:n]
}

// DefaultClientID generates the default MQTT client id "relaymq-<12 char alnum>".
func DefaultClientID() string {
	return "relaymq-" + RandomAlnum(12)
}
