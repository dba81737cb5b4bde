// Package convid derives canonical two-party conversation identifiers.
package convid

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two normalized participant ids. Normalize always
// escapes it, so Split is unambiguous.
const Separator = "~"

const hexDigits = "0123456789ABCDEF"

var (
	// ErrInvalidID is returned for empty or blank user ids.
	ErrInvalidID = errors.New("invalid user id")
	// ErrSelfConversation is returned when both ids name the same user.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrMalformed is returned by Split for strings that are not conversation ids.
	ErrMalformed = errors.New("malformed conversation id")
)

// unsafe reports whether c may not appear verbatim in a storage path
// segment. '%' is included because it introduces an escape.
func unsafe(c byte) bool {
	switch c {
	case '.', '#', '$', '[', ']', '/', '~', '%':
		return true
	}
	return c < 0x20 || c == 0x7f
}

// Normalize trims surrounding whitespace and percent-escapes every byte
// that is unsafe in a storage path. Distinct trimmed ids always yield
// distinct results.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	n := 0
	for i := 0; i < len(id); i++ {
		if unsafe(id[i]) {
			n++
		}
	}
	if n == 0 {
		return id
	}
	var b strings.Builder
	b.Grow(len(id) + 2*n)
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !unsafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// Unescape reverses Normalize for a canonical id. Non-canonical input is
// returned unchanged.
func Unescape(id string) string {
	if !canonical(id) || !strings.Contains(id, "%") {
		return id
	}
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		if id[i] != '%' {
			b.WriteByte(id[i])
			continue
		}
		b.WriteByte(unhex(id[i+1])<<4 | unhex(id[i+2]))
		i += 2
	}
	return b.String()
}

// canonical reports whether id is exactly what Normalize produces for some
// input: no raw unsafe bytes, and every escape is upper case and encodes an
// unsafe byte.
func canonical(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c != '%' {
			if unsafe(c) {
				return false
			}
			continue
		}
		if i+2 >= len(id) || !isHex(id[i+1]) || !isHex(id[i+2]) {
			return false
		}
		if !unsafe(unhex(id[i+1])<<4 | unhex(id[i+2])) {
			return false
		}
		i += 2
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	if c <= '9' {
		return c - '0'
	}
	return c - 'A' + 10
}

// Derive returns the conversation id for the unordered pair (a, b).
// Derive(a, b) == Derive(b, a) for every valid pair.
func Derive(a, b string) (string, error) {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return "", ErrInvalidID
	}
	if na == nb {
		return "", ErrSelfConversation
	}
	if nb < na {
		na, nb = nb, na
	}
	return na + Separator + nb, nil
}

// Split returns the two normalized participants encoded in a conversation
// id, in canonical order.
func Split(conversationID string) (string, string, error) {
	a, b, ok := strings.Cut(conversationID, Separator)
	if !ok || !canonical(a) || !canonical(b) || a >= b {
		return "", "", fmt.Errorf("%w: %q", ErrMalformed, conversationID)
	}
	return a, b, nil
}
