package files

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// RewritePlaylist rewrites every segment/key URI in an HLS playlist so
// players resolve them through /api/file instead of against the
// playlist URL. playlistRel is the playlist's own share-relative path.
// External, data:, and blob: URIs pass through untouched.
func RewritePlaylist(content, playlistRel string) string {
	base := path.Dir(playlistRel)
	if base == "." {
		base = ""
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "#") {
			// URI="..." attributes on tag lines (EXT-X-KEY, EXT-X-MAP, …)
			// are substituted in place to preserve surrounding attributes.
			lines[i] = uriAttrRe.ReplaceAllStringFunc(trimmed, func(m string) string {
				sub := uriAttrRe.FindStringSubmatch(m)
				return `URI="` + rewriteURI(sub[1], base) + `"`
			})
			continue
		}
		if strings.TrimSpace(trimmed) == "" {
			lines[i] = trimmed
			continue
		}
		lines[i] = rewriteURI(trimmed, base)
	}
	return strings.Join(lines, "\n")
}

// rewriteURI maps one playlist URI onto the file API, leaving anything
// that is not a share-relative reference alone.
func rewriteURI(uri, base string) string {
	if isExternalURI(uri) {
		return uri
	}
	return "/api/file?path=" + url.QueryEscape(path.Join(base, uri))
}

// isExternalURI reports URIs the rewrite must leave alone: anything
// with a "scheme://" prefix, data:/blob: payloads, protocol-relative
// references, and absolute paths.
func isExternalURI(uri string) bool {
	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return true
	}
	if strings.HasPrefix(uri, "/") {
		return true
	}
	if i := strings.Index(uri, "://"); i > 0 {
		return true
	}
	return false
}
