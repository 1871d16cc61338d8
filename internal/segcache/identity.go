package segcache

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the cache identity of a segment URL: scheme, host and
// path with query and fragment removed, so re-signed URLs for the same object
// compare equal. Input that does not parse as an absolute URL is cut at the
// first '?' or '#'.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
}
