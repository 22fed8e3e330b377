package engine

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
)

// newToken returns a high-entropy opaque ticket secret. 32 random bytes,
// URL-safe so it can ride inside a scannable payload unescaped.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TicketURL embeds a token as the opaque `t` query parameter of a scannable
// check-in URL. Scanning clients depend on this shape staying stable.
func TicketURL(baseURL, token string) string {
	return baseURL + "/checkin?t=" + url.QueryEscape(token)
}
