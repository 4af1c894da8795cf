package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chirp/internal/service"
)

// UserHandler serves registration, user lookup, activity pings, and the
// stats and health endpoints.
type UserHandler struct {
	users *service.UserService
	posts *service.PostService
	// sessions reports the live websocket connection count; the hub
	// provides it.
	sessions func() int
}

func NewUserHandler(users *service.UserService, posts *service.PostService, sessions func() int) *UserHandler {
	if sessions == nil {
		sessions = func() int { return 0 }
	}
	return &UserHandler{users: users, posts: posts, sessions: sessions}
}

// HandleRegister creates the user for a new device or renames an existing
// one. On a rename the response carries the propagation counts.
//
// POST /api/users/register
// Body: {"deviceId": "...", "nickname": "..."}
// Response: {"user": {...}, "propagation": {"postsUpdated": 1, "repliesUpdated": 0}}
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Nickname string `json:"nickname"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, propagation, err := h.users.Register(r.Context(), req.DeviceID, req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"user": user}
	if propagation != nil {
		resp["propagation"] = propagation
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns the user for a device ID.
//
// GET /api/users/{deviceID}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleActivity refreshes the device's last-active timestamp.
//
// POST /api/users/{deviceID}/activity
func (h *UserHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Ping(r.Context(), chi.URLParam(r, "deviceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns the aggregate service snapshot.
//
// GET /api/stats
func (h *UserHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.posts.Stats(r.Context(), h.sessions())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleHealth is the liveness probe.
//
// GET /api/health
func (h *UserHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  h.sessions(),
	})
}
