package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"puja-player/internal/playback"
	"puja-player/internal/player"
	"puja-player/internal/platform/logger"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// CacheClearer wipes the segment cache.
type CacheClearer interface {
	ClearAll(ctx context.Context) error
}

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	mgr   *Manager
	cache CacheClearer
	log   *slog.Logger
}

// NewHandler returns a Handler over mgr. cache may be nil to disable
// DELETE /cache.
func NewHandler(mgr *Manager, cache CacheClearer, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, cache: cache, log: logger.OrDiscard(log)}
}

// RegisterRoutes mounts the session and cache endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/reload", h.Reload)
			r.Post("/reset", h.Reset)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
			r.Post("/seek", h.Seek)
			r.Post("/volume", h.SetVolume)
			r.Post("/mute", h.SetMuted)
			r.Post("/segment", h.SetSegment)
			r.Post("/events", h.MediaEvent)
			r.Get("/playlist.m3u8", h.GetPlaylist)
		})
	})
	if h.cache != nil {
		r.Delete("/cache", h.ClearCache)
	}
}

type createRequest struct {
	BookingID string `json:"bookingId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateSession handles POST /sessions. Body: { "bookingId": "b-123" }.
// The session loads in the background; the response is 202.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid session body", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s, err := h.mgr.Create(req.BookingID)
	if err != nil {
		if errors.Is(err, playback.ErrNoBookingSelected) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("create session failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	w.Header().Set("Location", "/sessions/"+string(s.ID))
	h.writeJSON(w, http.StatusAccepted, s.View())
}

// ListSessions handles GET /sessions, optionally filtered with
// ?bookingId=.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.mgr.List()
	if booking := r.URL.Query().Get("bookingId"); booking != "" {
		sessions = h.mgr.ListByBooking(booking)
	}
	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	h.writeJSON(w, http.StatusOK, views)
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

// DeleteSession handles DELETE /sessions/{session_id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := ID(chi.URLParam(r, "session_id"))
	if err := h.mgr.Delete(id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /sessions/{session_id}/reload, the manual retry.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Reload(ID(chi.URLParam(r, "session_id")))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, s.View())
}

// Reset handles POST /sessions/{session_id}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Reset(ID(chi.URLParam(r, "session_id")))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

// Play handles POST /sessions/{session_id}/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.transport(w, r, "play", func(p *player.Player) bool { return p.Play() })
}

// Pause handles POST /sessions/{session_id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transport(w, r, "pause", func(p *player.Player) bool { return p.Pause() })
}

// Seek handles POST /sessions/{session_id}/seek. Body: { "time": 25.0 }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time *float64 `json:"time"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Time == nil {
		h.writeError(w, http.StatusBadRequest, "time is required")
		return
	}
	h.transport(w, r, "seek", func(p *player.Player) bool { return p.Seek(*body.Time) })
}

// SetSegment handles POST /sessions/{session_id}/segment. Body: { "index": 2 }.
func (h *Handler) SetSegment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index *int `json:"index"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Index == nil {
		h.writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	h.transport(w, r, "segment", func(p *player.Player) bool { return p.SetSegmentIndex(*body.Index) })
}

// SetVolume handles POST /sessions/{session_id}/volume. Body: { "volume": 0.5 }.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Volume == nil {
		h.writeError(w, http.StatusBadRequest, "volume is required")
		return
	}
	h.transport(w, r, "volume", func(p *player.Player) bool {
		p.SetVolume(*body.Volume)
		return true
	})
}

// SetMuted handles POST /sessions/{session_id}/mute. Body: { "muted": true }.
func (h *Handler) SetMuted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Muted bool `json:"muted"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.transport(w, r, "mute", func(p *player.Player) bool {
		p.SetMuted(body.Muted)
		return true
	})
}

// MediaEvent handles POST /sessions/{session_id}/events, forwarding a native
// media event from the client's element.
// Body: { "type": "loadedmetadata", "segment": 1, "duration": 22.0 }.
func (h *Handler) MediaEvent(w http.ResponseWriter, r *http.Request) {
	var ev player.Event
	if !h.decode(w, r, &ev) {
		return
	}
	switch ev.Type {
	case player.EventTimeUpdate, player.EventLoadedMetadata, player.EventEnded, player.EventError:
	default:
		h.writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Player.Handle(ev)
	h.writeJSON(w, http.StatusOK, s.View())
}

// GetPlaylist handles GET /sessions/{session_id}/playlist.m3u8: the session's
// cached segments as an HLS VOD playlist of object URLs.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	snap := s.Player.Snapshot()
	if len(snap.CachedSegments) == 0 {
		h.writeError(w, http.StatusConflict, "session is not ready")
		return
	}

	durations := s.Player.Durations()
	entries := make([]PlaylistEntry, 0, len(snap.CachedSegments))
	for i, c := range snap.CachedSegments {
		e := PlaylistEntry{URI: c.URL}
		if i < len(snap.Segments) && i < len(durations) {
			e.Duration = durations[i]
			e.Title = snap.Segments[i].Title
		}
		entries = append(entries, e)
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(BuildVODPlaylist(entries)))
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearAll(r.Context()); err != nil {
		h.log.Error("clear cache failed", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "clear cache failed")
		return
	}
	h.log.Info("segment cache cleared via api")
	w.WriteHeader(http.StatusNoContent)
}

// transport runs op against the session's player. A false result means no
// segment is ready yet and yields 409.
func (h *Handler) transport(w http.ResponseWriter, r *http.Request, name string, op func(*player.Player) bool) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if !op(s.Player) {
		h.log.Debug("transport rejected, no segment ready",
			slog.String("session_id", string(s.ID)),
			slog.String("op", name))
		h.writeError(w, http.StatusConflict, "no segment is ready")
		return
	}
	h.writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := ID(chi.URLParam(r, "session_id"))
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing session id")
		return nil, false
	}
	s, err := h.mgr.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
