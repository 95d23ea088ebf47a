package revtree

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// RevID is a revision identifier of the form "<generation>-<digest>", where
// generation is a positive decimal and digest is a non-empty string
// (normally lowercase hex).
type RevID string

func NewRevID(gen int, digest string) RevID {
	return RevID(strconv.Itoa(gen) + "-" + digest)
}

// ParseRevID validates s and returns it as a RevID.
func ParseRevID(s string) (RevID, error) {
	if _, _, ok := split(s); !ok {
		return "", ErrBadRevID
	}
	return RevID(s), nil
}

func split(s string) (int, string, bool) {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i == len(s)-1 || i > 9 {
		return 0, "", false
	}
	gen, err := strconv.Atoi(s[:i])
	if err != nil || gen <= 0 || s[0] == '+' {
		return 0, "", false
	}
	return gen, s[i+1:], true
}

func (r RevID) Valid() bool {
	_, _, ok := split(string(r))
	return ok
}

// Generation returns the numeric prefix, or 0 for an invalid ID.
func (r RevID) Generation() int {
	gen, _, _ := split(string(r))
	return gen
}

func (r RevID) Digest() string {
	_, d, _ := split(string(r))
	return d
}

func (r RevID) String() string { return string(r) }

// Compare orders revisions by generation, then by digest. Winner selection
// relies on this being a total order.
func Compare(a, b RevID) int {
	ga, da, _ := split(string(a))
	gb, db, _ := split(string(b))
	switch {
	case ga < gb:
		return -1
	case ga > gb:
		return 1
	}
	return strings.Compare(da, db)
}

// Generate derives the ID of a new revision from its parent, deletion state
// and body, so that identical edits made on different replicas produce
// identical IDs.
func Generate(parent RevID, deleted bool, body []byte) RevID {
	h := sha1.New()
	// parent ID with a one-byte length prefix
	p := []byte(parent)
	if len(p) > 255 {
		p = p[:255]
	}
	h.Write([]byte{byte(len(p))})
	h.Write(p)
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	return NewRevID(parent.Generation()+1, hex.EncodeToString(h.Sum(nil)))
}
