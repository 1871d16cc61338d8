package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"puja-player/internal/platform/logger"
)

func newTestRouter(t *testing.T) (*chi.Mux, *fixture, *fakeCache) {
	t.Helper()
	f := newFixture(t)
	cache := &fakeCache{}
	h := NewHandler(f.mgr, cache, logger.Discard())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, f, cache
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// createReady creates a session for b1 and waits until its segments are cached.
func createReady(t *testing.T, r http.Handler, f *fixture) View {
	t.Helper()
	rec := do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d", rec.Code)
	}
	v := decodeView(t, rec)
	s, err := f.mgr.Get(v.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	waitLoaded(t, s)
	return v
}

func TestHandler_CreateSession(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.ID == "" {
		t.Error("expected a session id")
	}
	if got := rec.Header().Get("Location"); got != "/sessions/"+string(v.ID) {
		t.Errorf("unexpected Location %q", got)
	}
}

func TestHandler_CreateSession_bad_request(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, body := range []string{"not json", `{"bookingId":""}`} {
		rec := do(r, http.MethodPost, "/sessions", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_GetSession(t *testing.T) {
	r, f, _ := newTestRouter(t)
	created := createReady(t, r, f)

	rec := do(r, http.MethodGet, "/sessions/"+string(created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	v := decodeView(t, rec)
	if v.Load != LoadDone {
		t.Errorf("expected load done, got %q", v.Load)
	}
	if len(v.State.CachedSegments) != 3 {
		t.Errorf("expected 3 cached segments, got %d", len(v.State.CachedSegments))
	}
	if !strings.HasPrefix(v.Media.Src, "/media/") {
		t.Errorf("expected media src under /media/, got %q", v.Media.Src)
	}
	if !strings.Contains(rec.Body.String(), `"phase":"loading"`) {
		t.Errorf("expected phase rendered by name, got %s", rec.Body.String())
	}
}

func TestHandler_unknown_session(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/sessions/nope", ""},
		{http.MethodDelete, "/sessions/nope", ""},
		{http.MethodPost, "/sessions/nope/play", ""},
		{http.MethodPost, "/sessions/nope/reload", ""},
		{http.MethodPost, "/sessions/nope/seek", `{"time":1}`},
		{http.MethodGet, "/sessions/nope/playlist.m3u8", ""},
	} {
		rec := do(r, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestHandler_transport_flow(t *testing.T) {
	r, f, _ := newTestRouter(t)
	v := createReady(t, r, f)
	base := "/sessions/" + string(v.ID)

	rec := do(r, http.MethodPost, base+"/events", `{"type":"loadedmetadata","segment":0,"duration":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("loadedmetadata: expected 200, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, base+"/play", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("play: expected 200, got %d", rec.Code)
	}
	if got := decodeView(t, rec); !got.State.IsPlaying || !got.Media.Playing {
		t.Errorf("expected playing after play, got state=%v media=%v", got.State.IsPlaying, got.Media.Playing)
	}

	rec = do(r, http.MethodPost, base+"/seek", `{"time":25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seek: expected 200, got %d", rec.Code)
	}
	got := decodeView(t, rec)
	if got.State.CurrentSegmentIndex != 1 {
		t.Errorf("expected segment 1 after seek, got %d", got.State.CurrentSegmentIndex)
	}
	if got.State.PendingSeek == nil || got.State.PendingSeek.SegmentTime != 15 {
		t.Errorf("expected pending seek at 15s, got %+v", got.State.PendingSeek)
	}

	rec = do(r, http.MethodPost, base+"/events", `{"type":"loadedmetadata","segment":1,"duration":22}`)
	got = decodeView(t, rec)
	if got.State.TotalDuration != 47 {
		t.Errorf("expected total 47, got %v", got.State.TotalDuration)
	}
	if got.Media.SeekTo != 15 || got.Media.SeekSeq == 0 {
		t.Errorf("expected seek directive to 15, got %+v", got.Media)
	}

	rec = do(r, http.MethodPost, base+"/pause", "")
	if got := decodeView(t, rec); got.State.IsPlaying {
		t.Error("expected paused")
	}

	rec = do(r, http.MethodPost, base+"/volume", `{"volume":0.4}`)
	if got := decodeView(t, rec); got.Media.Volume != 0.4 {
		t.Errorf("expected volume 0.4, got %v", got.Media.Volume)
	}

	rec = do(r, http.MethodPost, base+"/mute", `{"muted":true}`)
	if got := decodeView(t, rec); !got.State.IsMuted {
		t.Error("expected muted")
	}

	rec = do(r, http.MethodPost, base+"/segment", `{"index":2}`)
	if got := decodeView(t, rec); got.State.CurrentSegmentIndex != 2 {
		t.Errorf("expected segment 2, got %d", got.State.CurrentSegmentIndex)
	}
}

func TestHandler_transport_before_ready(t *testing.T) {
	r, f, _ := newTestRouter(t)
	f.sync.gate = make(chan struct{})
	defer close(f.sync.gate)

	rec := do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`)
	v := decodeView(t, rec)

	rec = do(r, http.MethodPost, "/sessions/"+string(v.ID)+"/play", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 before segments are ready, got %d", rec.Code)
	}
	rec = do(r, http.MethodGet, "/sessions/"+string(v.ID)+"/playlist.m3u8", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 playlist before ready, got %d", rec.Code)
	}
}

func TestHandler_bad_bodies(t *testing.T) {
	r, f, _ := newTestRouter(t)
	v := createReady(t, r, f)
	base := "/sessions/" + string(v.ID)

	for _, tc := range []struct{ path, body string }{
		{"/seek", `{}`},
		{"/seek", `nope`},
		{"/volume", `{}`},
		{"/segment", `{}`},
		{"/events", `{"type":"stalled","segment":0}`},
	} {
		rec := do(r, http.MethodPost, base+tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tc.path, tc.body, rec.Code)
		}
	}
}

func TestHandler_GetPlaylist(t *testing.T) {
	r, f, _ := newTestRouter(t)
	v := createReady(t, r, f)

	rec := do(r, http.MethodGet, "/sessions/"+string(v.ID)+"/playlist.m3u8", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != playlistContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "#EXT-X-PLAYLIST-TYPE:VOD") || !strings.HasSuffix(body, "#EXT-X-ENDLIST\n") {
		t.Errorf("expected a complete VOD playlist, got:\n%s", body)
	}
	if !strings.Contains(body, "#EXTINF:20.000,Ganesh Puja - Part 2\n") {
		t.Errorf("expected second segment entry, got:\n%s", body)
	}
	if strings.Count(body, "/media/") != 3 {
		t.Errorf("expected 3 media URIs, got:\n%s", body)
	}
}

func TestHandler_DeleteSession(t *testing.T) {
	r, f, _ := newTestRouter(t)
	v := createReady(t, r, f)

	rec := do(r, http.MethodDelete, "/sessions/"+string(v.ID), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.urls.Len() != 0 {
		t.Errorf("expected object URLs revoked, %d remain", f.urls.Len())
	}
}

func TestHandler_Reset_and_Reload(t *testing.T) {
	r, f, _ := newTestRouter(t)
	v := createReady(t, r, f)
	base := "/sessions/" + string(v.ID)

	rec := do(r, http.MethodPost, base+"/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	if got := decodeView(t, rec); got.Load != LoadIdle || len(got.State.Segments) != 0 {
		t.Errorf("expected idle empty session after reset, got %+v", got.Load)
	}

	rec = do(r, http.MethodPost, base+"/reload", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reload: expected 202, got %d", rec.Code)
	}
	s, _ := f.mgr.Get(v.ID)
	waitLoaded(t, s)
	if s.LoadState() != LoadDone {
		t.Errorf("expected reload to finish, got %q", s.LoadState())
	}
}

func TestHandler_ListSessions(t *testing.T) {
	r, _, _ := newTestRouter(t)
	do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`)
	do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`)

	rec := do(r, http.MethodGet, "/sessions", "")
	var views []View
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(views))
	}
}

func TestHandler_ListSessions_by_booking(t *testing.T) {
	r, _, _ := newTestRouter(t)
	first := decodeView(t, do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`))
	do(r, http.MethodPost, "/sessions", `{"bookingId":"b2"}`)
	second := decodeView(t, do(r, http.MethodPost, "/sessions", `{"bookingId":"b1"}`))

	rec := do(r, http.MethodGet, "/sessions?bookingId=b1", "")
	var views []View
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].ID != first.ID || views[1].ID != second.ID {
		t.Errorf("expected b1 sessions in creation order, got %+v", views)
	}

	rec = do(r, http.MethodGet, "/sessions?bookingId=none", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list for unknown booking, got %s", rec.Body.String())
	}
}

func TestHandler_ClearCache(t *testing.T) {
	r, _, cache := newTestRouter(t)

	rec := do(r, http.MethodDelete, "/cache", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if cache.cleared != 1 {
		t.Errorf("expected cache cleared once, got %d", cache.cleared)
	}

	cache.err = errors.New("disk gone")
	rec = do(r, http.MethodDelete, "/cache", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
