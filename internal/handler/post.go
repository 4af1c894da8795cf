package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/service"
)

// PostHandler serves the post surface: feed, creation, replies, engagement
// toggles, deletion, and the search endpoints.
type PostHandler struct {
	posts *service.PostService
}

func NewPostHandler(posts *service.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// HandleFeed returns the top-level feed, newest first.
//
// GET /api/posts?limit=20&offset=0
func (h *PostHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.Feed(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postList(posts))
}

// HandleCreate creates a post or, when parentId is set, a reply.
//
// POST /api/posts
// Body: {"deviceId": "...", "nickname": "...", "content": "...", "parentId": "..."}
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Nickname string `json:"nickname"`
		Content  string `json:"content"`
		ParentID string `json:"parentId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.posts.Create(r.Context(), req.DeviceID, req.Nickname, req.Content, req.ParentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HandleGet returns one post by ID, soft-deleted or not.
//
// GET /api/posts/{id}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleDelete soft-deletes a post. The acting device comes from the query
// string since DELETE bodies are unreliable across clients.
//
// DELETE /api/posts/{id}?deviceId=...
func (h *PostHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.posts.Delete(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("deviceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReplies lists the replies to a post, oldest first.
//
// GET /api/posts/{id}/replies?limit=20
func (h *PostHandler) HandleReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := h.posts.Replies(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postList(replies))
}

// HandleMentions lists the mention records extracted from a post.
//
// GET /api/posts/{id}/mentions
func (h *PostHandler) HandleMentions(w http.ResponseWriter, r *http.Request) {
	mentions, err := h.posts.Mentions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if mentions == nil {
		mentions = []model.Mention{}
	}
	writeJSON(w, http.StatusOK, mentions)
}

// HandleEngage toggles a like or reshare.
//
// POST /api/posts/{id}/engagements
// Body: {"deviceId": "...", "kind": "like"}
// Response: {"action": "added"|"removed", "post": {...}}
func (h *PostHandler) HandleEngage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Kind     string `json:"kind"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	action, post, err := h.posts.ToggleEngagement(r.Context(),
		chi.URLParam(r, "id"), req.DeviceID, model.EngagementKind(req.Kind))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action": action,
		"post":   post,
	})
}

// HandleTrending lists the most-used hashtags.
//
// GET /api/hashtags/trending?limit=10
func (h *PostHandler) HandleTrending(w http.ResponseWriter, r *http.Request) {
	tags, err := h.posts.Trending(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tags == nil {
		tags = []model.Hashtag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// HandleHashtagSearch lists posts carrying a hashtag. The "#" is implied.
//
// GET /api/search/hashtag/{tag}?limit=20
func (h *PostHandler) HandleHashtagSearch(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.ByHashtag(r.Context(), chi.URLParam(r, "tag"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postList(posts))
}

// HandleUserSearch returns a user's posts, replies, and the posts mentioning
// or replying to them.
//
// GET /api/search/user/{nickname}?limit=20
func (h *PostHandler) HandleUserSearch(w http.ResponseWriter, r *http.Request) {
	content, err := h.posts.SearchByUser(r.Context(), chi.URLParam(r, "nickname"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if content.Posts == nil {
		content.Posts = []model.Post{}
	}
	if content.Replies == nil {
		content.Replies = []model.Post{}
	}
	if content.Mentions == nil {
		content.Mentions = []model.Post{}
	}
	writeJSON(w, http.StatusOK, content)
}

// postList keeps empty results as [] rather than null in the JSON.
func postList(posts []model.Post) []model.Post {
	if posts == nil {
		return []model.Post{}
	}
	return posts
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
