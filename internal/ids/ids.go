package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the entity an ID belongs to. The prefix makes IDs
// self-describing in logs and wire payloads.
type Kind string

const (
	Session     Kind = "ses"
	Project     Kind = "prj"
	Correlation Kind = "cor"
	Pattern     Kind = "pat"
	Buffer      Kind = "buf"
	Terminal    Kind = "term"
	SSH         Kind = "ssh"
	Node        Kind = "node"
	Layout      Kind = "lay"
	Note        Kind = "note"
)

// minSuffixLen is the minimum number of characters after the prefix
// for an ID to be considered valid.
const minSuffixLen = 6

// New returns a fresh ID of the form "<kind>_<32 hex chars>".
func New(kind Kind) string {
	u := uuid.New()
	return string(kind) + "_" + strings.ReplaceAll(u.String(), "-", "")
}

// Valid reports whether id is a well-formed identifier of the given
// kind: correct prefix, at least six characters after it, and only
// URL-safe characters [A-Za-z0-9_-].
func Valid(kind Kind, id string) bool {
	prefix := string(kind) + "_"
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	suffix := id[len(prefix):]
	if len(suffix) < minSuffixLen {
		return false
	}
	for _, c := range suffix {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// KindOf returns the kind prefix of an ID, or "" if it has none.
func KindOf(id string) Kind {
	i := strings.IndexByte(id, '_')
	if i <= 0 {
		return ""
	}
	return Kind(id[:i])
}
