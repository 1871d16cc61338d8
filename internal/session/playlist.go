package session

import (
	"fmt"
	"math"
	"strings"
)

// PlaylistEntry is one media segment of a VOD playlist.
type PlaylistEntry struct {
	URI      string
	Duration float64
	Title    string
}

// BuildVODPlaylist renders entries, in order, as a complete HLS VOD
// playlist. An empty entries slice produces a minimal valid playlist.
func BuildVODPlaylist(entries []PlaylistEntry) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(entries))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	if len(entries) > 0 {
		b.WriteString("\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "#EXTINF:%.3f,%s\n", e.Duration, sanitizeTitle(e.Title))
		b.WriteString(e.URI)
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// targetDuration returns the ceiling of the longest entry, at least 1.
func targetDuration(entries []PlaylistEntry) int {
	longest := 0.0
	for _, e := range entries {
		if e.Duration > longest {
			longest = e.Duration
		}
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}

func sanitizeTitle(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
