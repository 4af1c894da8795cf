package model

import "time"

// EngagementKind distinguishes the two toggle-style actions a user can take
// on a post.
type EngagementKind string

const (
	EngagementLike    EngagementKind = "like"
	EngagementReshare EngagementKind = "reshare"
)

// Valid reports whether k is one of the known kinds.
func (k EngagementKind) Valid() bool {
	return k == EngagementLike || k == EngagementReshare
}

// Engagement links a user to a post with a like or reshare. At most one row
// exists per (post, user, kind); toggling off deletes the row.
type Engagement struct {
	ID        string         `json:"id"        db:"id"`
	PostID    string         `json:"postId"    db:"post_id"`
	UserID    string         `json:"userId"    db:"user_id"`
	Kind      EngagementKind `json:"kind"      db:"kind"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}
