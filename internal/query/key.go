package query

import (
	"strconv"
	"strings"
)

// Key identifies a cache entry by ordered parts, e.g. ["papers","detail","2301.1"].
type Key []string

// K builds a Key.
func K(parts ...string) Key { return Key(parts) }

// String is stable and unambiguous: every part is quoted.
func (k Key) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range k {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(p))
	}
	b.WriteByte(']')
	return b.String()
}

// HasPrefix reports whether prefix matches the leading parts of k.
// The empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, p := range prefix {
		if k[i] != p {
			return false
		}
	}
	return true
}

func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func (k Key) label() string {
	if len(k) == 0 {
		return "root"
	}
	return k[0]
}
