// Package repository defines the persistence interfaces the service layer
// programs against. The concrete implementation lives in repository/sqldb;
// tests substitute in-memory mocks.
package repository

import (
	"context"
	"time"

	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Users is the account store. Device ID is the stable key; nickname is the
// mutable display name.
type Users interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*model.User, error)
	GetByNickname(ctx context.Context, nickname string) (*model.User, error)
	// Upsert creates the user on first contact and updates nickname and
	// activity timestamps afterwards.
	Upsert(ctx context.Context, deviceID, nickname string) (*model.User, error)
	// NicknameTaken reports whether another active user already holds
	// nickname (case-sensitive comparison).
	NicknameTaken(ctx context.Context, nickname, exceptDeviceID string) (bool, error)
	TouchActivity(ctx context.Context, deviceID string) error
	CountActive(ctx context.Context) (int, error)
}

// Posts is the content store for top-level posts and replies.
type Posts interface {
	// Create persists the post together with its hashtag links and mention
	// records in a single transaction: either all of it lands or none does.
	Create(ctx context.Context, post *model.Post, tags []string, mentions []mention.Match) error
	// GetByID returns the post even when soft-deleted; callers inspect the
	// Deleted flag. Listings never include deleted posts.
	GetByID(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, opts ListOptions) ([]model.Post, error)
	ListByHashtag(ctx context.Context, tag string, limit int) ([]model.Post, error)
	ListByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error)
	ListRepliesByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error)
	// ListMentioning returns posts that mention nickname (via the mention
	// index) or that reply to one of nickname's posts.
	ListMentioning(ctx context.Context, nickname string, limit int) ([]model.Post, error)
	ListReplies(ctx context.Context, postID string, limit int) ([]model.Post, error)
	RecentByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error)
	SoftDelete(ctx context.Context, id string) error
	// UpdateAuthorNickname rewrites the denormalized author name on every
	// non-deleted post and reply by the author.
	UpdateAuthorNickname(ctx context.Context, authorID, nickname string) (int64, error)
	// ListWithMentionOf returns non-deleted posts whose body contains
	// "@nickname" terminated by a space or the end of text — the candidate
	// set for in-text rewriting on a rename.
	ListWithMentionOf(ctx context.Context, nickname string) ([]model.Post, error)
	UpdateContent(ctx context.Context, id, content string) error
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Engagements stores like/reshare toggles.
type Engagements interface {
	// Toggle flips the (post, user, kind) engagement and reports whether it
	// now exists. Both directions are single conditional statements, so
	// concurrent toggles on the same pair serialize in the store.
	Toggle(ctx context.Context, postID, userID string, kind model.EngagementKind) (added bool, err error)
}

// Hashtags reads the tag table; writes happen inside Posts.Create.
type Hashtags interface {
	Trending(ctx context.Context, limit int) ([]model.Hashtag, error)
	// CleanupOrphans deletes tags no longer linked by any post.
	CleanupOrphans(ctx context.Context) (int64, error)
}

// Mentions is the persistent mention index: post → referenced names.
type Mentions interface {
	// Record extracts mentions from text and inserts one row per unique
	// referenced name, ignoring rows that already exist. Calling it twice
	// for the same post is a no-op the second time.
	Record(ctx context.Context, postID, text string) error
	// RewriteReferences renames oldName to newName across the index. It
	// never produces duplicate (post, name) rows: rows whose post already
	// references newName are dropped instead of renamed.
	RewriteReferences(ctx context.Context, oldName, newName string) (int64, error)
	// Backfill populates the index from pre-index posts. It short-circuits
	// to a no-op once the index holds any row, so it is safe to run
	// unconditionally at startup.
	Backfill(ctx context.Context) (int, error)
	ListForPost(ctx context.Context, postID string) ([]model.Mention, error)
}
