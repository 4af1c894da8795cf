package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository/sqldb"
	"github.com/sakif/chirp/internal/store"
)

// recorderBroadcaster captures broadcast events for assertions.
type recorderBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	name    string
	payload any
}

func (r *recorderBroadcaster) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, payload: payload})
}

func (r *recorderBroadcaster) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// newTestServices wires the services against a real in-memory repository.
// The propagation and creation flows span all five repository interfaces, so
// exercising them against the actual SQL catches contract drift that
// per-interface mocks would hide.
func newTestServices(t *testing.T) (*PostService, *UserService, *recorderBroadcaster) {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	repo := sqldb.New(st)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bc := &recorderBroadcaster{}
	posts := NewPostService(repo, repo, repo, repo, repo, bc, logger, DefaultDuplicateWindow)
	users := NewUserService(repo, repo, repo, logger)
	return posts, users, bc
}

func mustRegister(t *testing.T, users *UserService, deviceID, nickname string) *model.User {
	t.Helper()
	u, _, err := users.Register(context.Background(), deviceID, nickname)
	if err != nil {
		t.Fatalf("Register(%s, %s) error = %v", deviceID, nickname, err)
	}
	return u
}

func mustPost(t *testing.T, posts *PostService, deviceID, text, parentID string) *model.Post {
	t.Helper()
	p, err := posts.Create(context.Background(), deviceID, "", text, parentID)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", text, err)
	}
	return p
}

func TestCreate_ContentLengthLimit(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")

	// Exactly 280 code points is accepted — counted in runes, not bytes.
	body := strings.Repeat("あ", model.MaxContentRunes)
	if _, err := posts.Create(ctx, "device-1", "", body, ""); err != nil {
		t.Fatalf("Create(280 runes) error = %v", err)
	}

	// 281 is rejected before touching the store.
	_, err := posts.Create(ctx, "device-1", "", body+"あ", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create(281 runes) error = %v, want ErrValidation", err)
	}

	_, err = posts.Create(ctx, "device-1", "", "   ", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create(blank) error = %v, want ErrValidation", err)
	}
}

func TestCreate_RegistersNewDevice(t *testing.T) {
	posts, _, bc := newTestServices(t)
	ctx := context.Background()

	p, err := posts.Create(ctx, "device-new", "carol", "first contact", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.AuthorNickname != "carol" {
		t.Errorf("AuthorNickname = %q, want %q", p.AuthorNickname, "carol")
	}

	events := bc.named(EventNewPost)
	if len(events) != 1 {
		t.Fatalf("broadcast %d newPost events, want 1", len(events))
	}
	got, ok := events[0].payload.(*model.Post)
	if !ok || got.ID != p.ID {
		t.Errorf("newPost payload = %+v, want post %s", events[0].payload, p.ID)
	}
}

func TestCreate_UnknownDeviceWithoutName(t *testing.T) {
	posts, _, _ := newTestServices(t)

	_, err := posts.Create(context.Background(), "device-x", "", "hello", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestCreate_NewDeviceNicknameChecks(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")

	// A new device can't post under a nickname another active user holds.
	_, err := posts.Create(ctx, "device-2", "alice", "hello", "")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Create(taken nickname) error = %v, want ErrConflict", err)
	}
	if _, err := users.Get(ctx, "device-2"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get(device-2) error = %v, want ErrNotFound after rejected create", err)
	}

	// First-contact display names go through the register-path validation.
	_, err = posts.Create(ctx, "device-2", "not a name!", "hello", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create(invalid nickname) error = %v, want ErrValidation", err)
	}

	// A legal, unclaimed name still registers the device.
	if _, err := posts.Create(ctx, "device-2", "bob", "hello", ""); err != nil {
		t.Fatalf("Create(free nickname) error = %v", err)
	}
	u, err := users.Get(ctx, "device-2")
	if err != nil {
		t.Fatalf("Get(device-2) error = %v", err)
	}
	if u.Nickname != "bob" {
		t.Errorf("Nickname = %q, want bob", u.Nickname)
	}
}

func TestCreate_ReplyRequiresLiveParent(t *testing.T) {
	posts, users, bc := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")

	_, err := posts.Create(ctx, "device-1", "", "orphan reply", "no-such-post")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Create(reply to missing) error = %v, want ErrNotFound", err)
	}

	parent := mustPost(t, posts, "device-1", "parent post", "")
	reply, err := posts.Create(ctx, "device-1", "", "a reply", parent.ID)
	if err != nil {
		t.Fatalf("Create(reply) error = %v", err)
	}
	if !reply.IsReply() {
		t.Error("reply.IsReply() = false, want true")
	}
	if len(bc.named(EventNewReply)) != 1 {
		t.Errorf("broadcast %d newReply events, want 1", len(bc.named(EventNewReply)))
	}

	// Replying to a deleted post is refused; the existing reply stays valid.
	if err := posts.Delete(ctx, parent.ID, "device-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = posts.Create(ctx, "device-1", "", "too late", parent.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Create(reply to deleted) error = %v, want ErrNotFound", err)
	}
}

func TestCreate_DuplicateWindow(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")

	mustPost(t, posts, "device-1", "same thing", "")

	_, err := posts.Create(ctx, "device-1", "", "same thing", "")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("duplicate Create() error = %v, want ErrConflict", err)
	}

	// Different content inside the window is fine.
	mustPost(t, posts, "device-1", "different thing", "")
}

func TestToggleEngagement_Cycle(t *testing.T) {
	posts, users, bc := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")
	p := mustPost(t, posts, "device-1", "toggle me", "")

	action, got, err := posts.ToggleEngagement(ctx, p.ID, "device-1", model.EngagementLike)
	if err != nil {
		t.Fatalf("ToggleEngagement() error = %v", err)
	}
	if action != "added" || got.LikesCount != 1 {
		t.Errorf("first toggle = %q (likes %d), want added with 1 like", action, got.LikesCount)
	}

	action, got, err = posts.ToggleEngagement(ctx, p.ID, "device-1", model.EngagementLike)
	if err != nil {
		t.Fatalf("ToggleEngagement() error = %v", err)
	}
	if action != "removed" || got.LikesCount != 0 {
		t.Errorf("second toggle = %q (likes %d), want removed with 0 likes", action, got.LikesCount)
	}

	action, _, err = posts.ToggleEngagement(ctx, p.ID, "device-1", model.EngagementLike)
	if err != nil {
		t.Fatalf("ToggleEngagement() error = %v", err)
	}
	if action != "added" {
		t.Errorf("third toggle = %q, want added", action)
	}

	events := bc.named(EventEngagementUpdate)
	if len(events) != 3 {
		t.Fatalf("broadcast %d engagementUpdate events, want 3", len(events))
	}
	upd, ok := events[0].payload.(*EngagementUpdate)
	if !ok || upd.Action != "added" || upd.Kind != "like" {
		t.Errorf("engagementUpdate payload = %+v, want added like", events[0].payload)
	}
}

func TestToggleEngagement_InvalidKind(t *testing.T) {
	posts, users, _ := newTestServices(t)
	mustRegister(t, users, "device-1", "alice")

	_, _, err := posts.ToggleEngagement(context.Background(), "whatever", "device-1", "boost")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("ToggleEngagement(boost) error = %v, want ErrValidation", err)
	}
}

func TestDelete_OwnerOnly(t *testing.T) {
	posts, users, bc := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")
	mustRegister(t, users, "device-2", "bob")
	p := mustPost(t, posts, "device-1", "mine", "")

	err := posts.Delete(ctx, p.ID, "device-2")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Delete() by non-owner error = %v, want ErrForbidden", err)
	}

	if err := posts.Delete(ctx, p.ID, "device-1"); err != nil {
		t.Fatalf("Delete() by owner error = %v", err)
	}
	events := bc.named(EventPostDeleted)
	if len(events) != 1 {
		t.Fatalf("broadcast %d postDeleted events, want 1", len(events))
	}
	if del, ok := events[0].payload.(*PostDeleted); !ok || del.PostID != p.ID {
		t.Errorf("postDeleted payload = %+v, want post %s", events[0].payload, p.ID)
	}

	// Deleting an already-deleted post reads as not-found.
	err = posts.Delete(ctx, p.ID, "device-1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	_, users, _ := newTestServices(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		nickname string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("a", MaxNicknameRunes+1)},
		{"contains space", "ali ce"},
		{"punctuation", "bob!"},
		{"at sign", "@bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := users.Register(ctx, "device-1", tt.nickname)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Register(%q) error = %v, want ErrValidation", tt.nickname, err)
			}
		})
	}

	// Japanese nicknames are legal — the alias dictionary names must be
	// registrable.
	for _, ok := range []string{"山田", "やまだ", "ヤマダ", "alice_99"} {
		if _, _, err := users.Register(ctx, "device-"+ok, ok); err != nil {
			t.Errorf("Register(%q) error = %v, want nil", ok, err)
		}
	}
}

func TestRegister_NicknameConflict(t *testing.T) {
	_, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")

	_, _, err := users.Register(ctx, "device-2", "alice")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Register(taken nickname) error = %v, want ErrConflict", err)
	}

	// Re-registering your own current nickname is a no-op, not a conflict.
	u, result, err := users.Register(ctx, "device-1", "alice")
	if err != nil {
		t.Fatalf("Register(own nickname) error = %v", err)
	}
	if result != nil {
		t.Errorf("Register(own nickname) propagation = %+v, want nil", result)
	}
	if u.Nickname != "alice" {
		t.Errorf("Nickname = %q, want alice", u.Nickname)
	}
}

func TestRegister_RenamePropagates(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")
	mustRegister(t, users, "device-2", "carol")

	hello := mustPost(t, posts, "device-2", "hello @alice", "")
	prefix := mustPost(t, posts, "device-2", "@alice2 hi", "")
	own := mustPost(t, posts, "device-1", "my own post", "")

	_, result, err := users.Register(ctx, "device-1", "bob")
	if err != nil {
		t.Fatalf("Register(rename) error = %v", err)
	}
	if result == nil {
		t.Fatal("Register(rename) propagation = nil, want counts")
	}
	if result.PostsUpdated != 1 || result.RepliesUpdated != 0 {
		t.Errorf("propagation = %+v, want 1 post / 0 replies", result)
	}

	// The mentioning body was rewritten.
	got, err := posts.Get(ctx, hello.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != "hello @bob" {
		t.Errorf("rewritten body = %q, want %q", got.Content, "hello @bob")
	}

	// "@alice2" is a longer handle, not a mention of alice: untouched.
	got, err = posts.Get(ctx, prefix.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != "@alice2 hi" {
		t.Errorf("prefixed body = %q, want unchanged %q", got.Content, "@alice2 hi")
	}

	// The author's own post carries the new denormalized name.
	got, err = posts.Get(ctx, own.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AuthorNickname != "bob" {
		t.Errorf("AuthorNickname = %q, want bob", got.AuthorNickname)
	}

	// The mention index followed the rename.
	content, err := posts.SearchByUser(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("SearchByUser(bob) error = %v", err)
	}
	if len(content.Mentions) != 1 || content.Mentions[0].ID != hello.ID {
		t.Errorf("mentions of bob = %+v, want [%s]", content.Mentions, hello.ID)
	}
}

func TestPropagate_CountsPostsAndRepliesSeparately(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	alice := mustRegister(t, users, "device-1", "alice")
	mustRegister(t, users, "device-2", "carol")

	top := mustPost(t, posts, "device-2", "ping @alice", "")
	mustPost(t, posts, "device-2", "reply for @alice", top.ID)

	result, err := users.Propagate(ctx, alice.ID, "alice", "alicia")
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if result.PostsUpdated != 1 || result.RepliesUpdated != 1 {
		t.Errorf("propagation = %+v, want 1 post / 1 reply", result)
	}
}

func TestSearchByUser(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")
	mustRegister(t, users, "device-2", "bob")

	mine := mustPost(t, posts, "device-1", "my post", "")
	reply := mustPost(t, posts, "device-1", "my reply", mine.ID)
	mentioning := mustPost(t, posts, "device-2", "cc @alice", "")

	content, err := posts.SearchByUser(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("SearchByUser() error = %v", err)
	}
	if len(content.Posts) != 1 || content.Posts[0].ID != mine.ID {
		t.Errorf("Posts = %+v, want [%s]", content.Posts, mine.ID)
	}
	if len(content.Replies) != 1 || content.Replies[0].ID != reply.ID {
		t.Errorf("Replies = %+v, want [%s]", content.Replies, reply.ID)
	}
	// Mentions include the @alice post and the reply to alice's post.
	if len(content.Mentions) != 2 {
		t.Errorf("Mentions = %+v, want the mentioning post %s and the reply", content.Mentions, mentioning.ID)
	}

	_, err = posts.SearchByUser(ctx, "nobody", 10)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SearchByUser(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	posts, users, _ := newTestServices(t)
	ctx := context.Background()
	mustRegister(t, users, "device-1", "alice")
	mustPost(t, posts, "device-1", "counting #stats", "")

	stats, err := posts.Stats(ctx, 3)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Users != 1 || stats.Posts != 1 || stats.PostsToday != 1 {
		t.Errorf("Stats = %+v, want 1 user / 1 post / 1 today", stats)
	}
	if stats.ConnectedSessions != 3 {
		t.Errorf("ConnectedSessions = %d, want 3", stats.ConnectedSessions)
	}
	if len(stats.TrendingHashtags) != 1 || stats.TrendingHashtags[0].Tag != "#stats" {
		t.Errorf("TrendingHashtags = %+v, want [#stats]", stats.TrendingHashtags)
	}
}
