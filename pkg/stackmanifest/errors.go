package stackmanifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrDrift = errors.New("stack manifest drift")

type MissingFileError struct {
	Path string
}

func (e MissingFileError) Error() string {
	path := strings.TrimSpace(e.Path)
	if path == "" {
		return "stack file not found"
	}
	return fmt.Sprintf("stack file not found: %s", path)
}

// DriftError reports a stored manifest that no longer matches the declared graph.
type DriftError struct {
	StoredDigest  string
	CurrentDigest string
	Added         []string
	Removed       []string
}

func (e DriftError) Error() string {
	parts := []string{fmt.Sprintf("digest %s != %s", short(e.StoredDigest), short(e.CurrentDigest))}
	if len(e.Added) > 0 {
		added := append([]string(nil), e.Added...)
		sort.Strings(added)
		parts = append(parts, "added: "+strings.Join(added, ", "))
	}
	if len(e.Removed) > 0 {
		removed := append([]string(nil), e.Removed...)
		sort.Strings(removed)
		parts = append(parts, "removed: "+strings.Join(removed, ", "))
	}
	return fmt.Sprintf("%s: %s", ErrDrift, strings.Join(parts, "; "))
}

func (e DriftError) Unwrap() error { return ErrDrift }

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
