package session

import (
	"strings"
	"testing"
)

func TestBuildVODPlaylist_empty(t *testing.T) {
	out := BuildVODPlaylist(nil)
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Error("expected #EXTM3U header")
	}
	if !strings.Contains(out, "#EXT-X-PLAYLIST-TYPE:VOD") {
		t.Error("expected VOD playlist type")
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:1") {
		t.Error("expected target duration 1 for empty")
	}
	if strings.Contains(out, "#EXTINF") {
		t.Error("expected no segments")
	}
	if !strings.HasSuffix(out, "#EXT-X-ENDLIST\n") {
		t.Error("expected #EXT-X-ENDLIST last")
	}
}

func TestBuildVODPlaylist_with_entries(t *testing.T) {
	out := BuildVODPlaylist([]PlaylistEntry{
		{URI: "/media/a", Duration: 10, Title: "Ganesh Puja - Part 1"},
		{URI: "/media/b", Duration: 20.5, Title: "Ganesh Puja - Part 2"},
	})

	want := "#EXTINF:10.000,Ganesh Puja - Part 1\n/media/a\n" +
		"#EXTINF:20.500,Ganesh Puja - Part 2\n/media/b\n" +
		"#EXT-X-ENDLIST\n"
	if !strings.HasSuffix(out, want) {
		t.Errorf("unexpected segment lines:\n%s", out)
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:21") {
		t.Error("expected target duration ceil(20.5) = 21")
	}
	if strings.Index(out, "/media/a") > strings.Index(out, "/media/b") {
		t.Error("expected entries in input order")
	}
}

func TestBuildVODPlaylist_title_newlines(t *testing.T) {
	out := BuildVODPlaylist([]PlaylistEntry{{URI: "/media/a", Duration: 5, Title: "line\nbreak"}})
	if !strings.Contains(out, "#EXTINF:5.000,line break\n") {
		t.Errorf("expected newline replaced in title, got:\n%s", out)
	}
}
