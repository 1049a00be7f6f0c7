// Package checksum derives entity tags for gateway list responses.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ETag returns a strong entity tag (quoted hex SHA-256) for body.
func ETag(body []byte) string {
	h := sha256.Sum256(body)
	return `"` + hex.EncodeToString(h[:]) + `"`
}

// Matches reports whether an If-None-Match header value names etag.
// The header may list several tags, carry weak prefixes or be "*".
func Matches(ifNoneMatch, etag string) bool {
	for _, c := range strings.Split(ifNoneMatch, ",") {
		c = strings.TrimSpace(c)
		if c == "*" {
			return true
		}
		c = strings.TrimPrefix(c, "W/")
		if strings.Trim(c, `"`) == strings.Trim(etag, `"`) {
			return true
		}
	}
	return false
}
