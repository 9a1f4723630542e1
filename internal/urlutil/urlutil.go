// Package urlutil provides URL helpers for media source handling.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// IsRemoteURL checks if a URL is a remote URL that can be fetched.
// This includes:
//   - URLs with http:// or https:// scheme
//   - Protocol-relative URLs (//example.com/...)
//
// Returns false for relative paths, empty strings, or local paths.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the scheme of a URL (http, https, file) or empty string if unknown.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// LocalPath resolves a local source reference to a filesystem path.
// file:// URLs have their path extracted; anything else is treated as a
// plain path and returned unchanged.
func LocalPath(u string) string {
	if !IsFileURL(u) {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Path == "" {
		return strings.TrimPrefix(u, "file://")
	}
	return parsed.Path
}

// ValidateSource checks that a source URL matches how it will be fetched.
// Remote sources must use http or https; local sources accept a plain path
// or a file:// URL.
func ValidateSource(u string, isLocal bool) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	if isLocal {
		if IsRemoteURL(u) {
			return fmt.Errorf("local source cannot use a remote URL: %s", u)
		}
		if LocalPath(u) == "" {
			return fmt.Errorf("empty path in file URL: %s", u)
		}
		return nil
	}

	switch GetScheme(u) {
	case SchemeHTTP, SchemeHTTPS:
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http:// or https://)")
	default:
		return fmt.Errorf("unsupported URL scheme for remote source: %s", GetScheme(u))
	}
}
