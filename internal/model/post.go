package model

import "time"

// Post is a content item: a top-level post when ParentID is empty, a reply
// when it references another post.
//
// AuthorNickname is deliberately denormalized — it is the author's display
// name as of creation (or as of their last rename, once the propagator has
// run). Feeds render without a join, at the cost of a bulk rewrite whenever a
// user renames.
//
// Posts are never hard-deleted. Deleted is a soft flag: the row stays
// queryable by ID but is excluded from every listing.
type Post struct {
	ID             string    `json:"id"             db:"id"`
	AuthorID       string    `json:"authorId"       db:"author_id"`
	AuthorNickname string    `json:"authorNickname" db:"author_nickname"`
	Content        string    `json:"content"        db:"content"`
	ParentID       string    `json:"parentId,omitempty" db:"parent_id"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
	Deleted        bool      `json:"-"              db:"is_deleted"`

	// Aggregates, computed per query — not stored columns.
	LikesCount    int `json:"likesCount"`
	ResharesCount int `json:"resharesCount"`
	RepliesCount  int `json:"repliesCount"`
}

// IsReply reports whether the post was created as a reply to another post.
func (p *Post) IsReply() bool { return p.ParentID != "" }

// MaxContentRunes is the body length limit, counted in Unicode code points
// (not bytes — a post of 280 kanji is valid).
const MaxContentRunes = 280
