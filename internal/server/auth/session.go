package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrUnauthorized covers missing, malformed, forged and expired sessions.
var ErrUnauthorized = errors.New("unauthorized")

// SessionMaxAge applies to both the admin session and per-share sessions.
const SessionMaxAge = 7 * 24 * time.Hour

// Sign returns the base64url-encoded HMAC-SHA256 of payload under secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Issue returns a session token embedding the current Unix timestamp:
// "<timestamp>.<signature>".
func Issue(secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return ts + "." + Sign(secret, ts)
}

// Verify checks the token's signature under secret using a constant-time
// comparison and returns the embedded timestamp.
func Verify(secret, token string) (int64, bool) {
	payload, sig, found := strings.Cut(token, ".")
	if !found {
		return 0, false
	}
	expected := Sign(secret, payload)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return 0, false
	}
	ts, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Valid reports whether token carries a good signature and has not outlived
// maxAge.
func Valid(secret, token string, maxAge time.Duration) bool {
	ts, ok := Verify(secret, token)
	if !ok {
		return false
	}
	age := time.Now().Unix() - ts
	return age >= 0 && age <= int64(maxAge.Seconds())
}

// ShareSecret derives the signing secret for one share's sessions. The
// share token is mixed with the server secret so knowledge of one share's
// signing material never helps forge another share's or the admin's session.
func ShareSecret(shareToken, serverSecret string) string {
	return shareToken + serverSecret
}
