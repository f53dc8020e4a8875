// Package corelib holds small wire-format helpers shared by pkg/broker/envelope
// and pkg/broker/router: network-code validation, timestamp canonicalization,
// the err_param error code, and a random hex-string generator.
package corelib

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"
)

var codePattern = regexp.MustCompile(`^[a-z0-9]+([_-][a-z0-9]+)*$`)

// IsCode reports whether s is a valid network code: lowercase alphanumerics
// separated by single `_` or `-`.
func IsCode(s string) bool {
	return s != "" && codePattern.MatchString(s)
}

// TimeStr parses an RFC 3339 timestamp and re-emits it in canonical RFC 3339
// form with millisecond precision (e.g. "2023-01-02T03:04:05.678Z").
func TimeStr(s string) (string, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", err
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00"), nil
}

// NowStr returns the current instant in the same canonical RFC 3339 form
// TimeStr produces, for stamping `pub`/`time` fields the broker itself
// originates rather than echoes from a caller.
func NowStr() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// RandomString returns n random lowercase-hex characters. No package in
// this module calls it; the router generates data ids with uuid.NewString.
func RandomString(n int) string {
	buf := make([]byte, (n+1)/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}
