package cache

import (
	_ "crypto/sha256" // registers the digest algorithm
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Kind names an artifact type.
type Kind string

// Artifact kinds.
const (
	KindDiff      Kind = "diff"
	KindReadme    Kind = "readme"
	KindHighlight Kind = "highlight"
)

// Key derives the cache key for the artifact of kind rendered from objectID
// by renderer version. objectID may carry extra inputs the renderer depends
// on, e.g. a file name, as long as they are fixed for that object.
func Key(objectID string, kind Kind, version int) digest.Digest {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(0)
	b.WriteString(objectID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(version))
	return digest.FromString(b.String())
}
