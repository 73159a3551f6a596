package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// domainPattern accepts bare domains like "shopify.com". Scheme, path and
// port are rejected; the backend expects a hostname only.
var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// ValidateTarget performs the cheap syntactic check before a target is
// submitted. The backend stays authoritative; this only catches inputs
// that are guaranteed to be rejected anyway.
func ValidateTarget(target string) error {
	t := strings.TrimSpace(target)
	if t == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if len(t) < 3 || len(t) > 253 {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	if !domainPattern.MatchString(t) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

// NormalizeTarget reduces user input to the bare hostname the backend
// expects: scheme, path and leading "www." are stripped, the rest is
// lowercased.
func NormalizeTarget(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	if i := strings.Index(t, "://"); i != -1 {
		t = t[i+3:]
	}
	if i := strings.IndexAny(t, "/?#"); i != -1 {
		t = t[:i]
	}
	t = strings.TrimPrefix(t, "www.")
	return t
}
