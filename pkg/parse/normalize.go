package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizePage standardizes a page or image URL for visited-set and dedup
// keys. It lowercases the scheme and host, removes default ports (80 for
// http, 443 for https), removes trailing slashes from paths (unless root
// "/"), ensures empty path becomes "/", and strips both query string and
// fragment. Does not modify the input *url.URL.
func NormalizePage(u *url.URL) string {
	normalized := normalizeCommon(u)
	if normalized == nil {
		return ""
	}
	normalized.RawQuery = ""
	return normalized.String()
}

// NormalizeStream standardizes a video/stream URL. Unlike NormalizePage it
// keeps the query string: stream manifests routinely carry auth tokens and
// variant selectors in query parameters, so dropping them would merge
// distinct streams. Only the fragment is removed.
func NormalizeStream(u *url.URL) string {
	normalized := normalizeCommon(u)
	if normalized == nil {
		return ""
	}
	return normalized.String()
}

func normalizeCommon(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	return &normalized
}

// ParseAndNormalizePage parses a URL string using the stricter
// url.ParseRequestURI (requiring a scheme) and normalizes it with
// NormalizePage. Returns the normalized string, the parsed URL, and any
// parse error.
func ParseAndNormalizePage(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizePage(parsed), parsed, nil
}

// ParseAndNormalizeStream is ParseAndNormalizePage for stream URLs.
func ParseAndNormalizeStream(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeStream(parsed), parsed, nil
}
