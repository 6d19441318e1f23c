package files

import (
	"strings"
	"testing"
)

// TestRewritePlaylist resolves segment URIs against the playlist path.
func TestRewritePlaylist(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXTINF:6.0,",
		"seg_00000.ts",
		"#EXTINF:6.0,",
		"sub/seg_00001.ts",
		"#EXT-X-ENDLIST",
	}, "\n")
	out := RewritePlaylist(in, "videos/show/index.m3u8")
	if !strings.Contains(out, "/api/file?path=videos%2Fshow%2Fseg_00000.ts") {
		t.Fatalf("sibling segment not rewritten:\n%s", out)
	}
	if !strings.Contains(out, "/api/file?path=videos%2Fshow%2Fsub%2Fseg_00001.ts") {
		t.Fatalf("nested segment not rewritten:\n%s", out)
	}
	if !strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Fatalf("tags must pass through:\n%s", out)
	}
}

// TestRewritePlaylistExternalPassThrough leaves non-relative URIs alone.
func TestRewritePlaylistExternalPassThrough(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"https://cdn.example.com/seg.ts",
		"data:text/plain;base64,QQ==",
		"/already/rooted.ts",
	}, "\n")
	out := RewritePlaylist(in, "a.m3u8")
	for _, keep := range []string{"https://cdn.example.com/seg.ts", "data:text/plain;base64,QQ==", "/already/rooted.ts"} {
		if !strings.Contains(out, keep) {
			t.Fatalf("external URI %q was rewritten:\n%s", keep, out)
		}
	}
	if strings.Contains(out, "path=https") {
		t.Fatalf("external URI routed through API:\n%s", out)
	}
}

// TestRewritePlaylistURIAttribute rewrites URI="…" on tag lines while
// preserving surrounding attributes.
func TestRewritePlaylistURIAttribute(t *testing.T) {
	in := `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x0123`
	out := RewritePlaylist(in, "movies/film.m3u8")
	if !strings.Contains(out, `URI="/api/file?path=movies%2Fkey.bin"`) {
		t.Fatalf("key URI not rewritten: %s", out)
	}
	if !strings.HasPrefix(out, "#EXT-X-KEY:METHOD=AES-128,") || !strings.Contains(out, "IV=0x0123") {
		t.Fatalf("surrounding attributes damaged: %s", out)
	}
}
