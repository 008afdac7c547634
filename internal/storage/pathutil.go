package storage

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScopeFromURL turns a page URL into a filesystem and key safe scope such as
// "www.nseindia.com_option-chain". Query and fragment are ignored so symbol switches share a scope.
func ScopeFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	path := strings.Trim(parsed.Path, "/")
	scope := parsed.Host
	if path != "" {
		scope += "_" + strings.ReplaceAll(path, "/", "_")
	}
	scope = unsafeKeyChars.ReplaceAllString(scope, "-")
	return strings.TrimLeft(scope, ".-_"), nil
}

// ScopedKey joins a scope and a fixed cache name into a store key.
func ScopedKey(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

// ShortID returns the first 8 chars of a CDP target ID.
func ShortID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}
