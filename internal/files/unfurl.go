package files

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
)

// previewBots are User-Agent substrings of link-preview crawlers that
// should see an unfurl page rather than raw file bytes.
var previewBots = []string{
	"discordbot",
	"slackbot",
	"twitterbot",
	"facebookexternalhit",
	"linkedinbot",
	"whatsapp",
	"telegrambot",
	"line",
	"skypeuripreview",
}

// IsPreviewBot matches known social-preview crawlers.
func IsPreviewBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, bot := range previewBots {
		if strings.Contains(ua, bot) {
			return true
		}
	}
	return false
}

// serveUnfurl renders the OpenGraph/Twitter-card page a crawler embeds
// in place of the download link.
func (s *Service) serveUnfurl(w http.ResponseWriter, r *http.Request, rel string, size int64) error {
	name := path.Base(rel)
	var count int64
	if s.Stats != nil {
		count = s.Stats.DownloadCount(rel)
	}
	fileURL := "/api/file?path=" + url.QueryEscape(rel) + "&download=1"
	title := html.EscapeString(name)
	desc := html.EscapeString(fmt.Sprintf("%s · %s · downloaded %d times",
		name, humanize.Bytes(uint64(size)), count))

	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<meta property="og:type" content="website">
<meta property="og:title" content="%s">
<meta property="og:description" content="%s">
<meta property="og:url" content="%s">
<meta name="twitter:card" content="summary">
<meta name="twitter:title" content="%s">
<meta name="twitter:description" content="%s">
</head>
<body><p><a href="%s">%s</a></p></body>
</html>
`, title, title, desc, html.EscapeString(fileURL), title, desc, html.EscapeString(fileURL), title)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodHead {
		return nil
	}
	_, _ = fmt.Fprint(w, page)
	return nil
}
