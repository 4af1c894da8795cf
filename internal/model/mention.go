package model

import "time"

// Mention records that a post's body references a user, either by @handle or
// by a recognized alias. At most one row exists per (post, referenced name)
// no matter how many times the name appears; Offset is the first occurrence,
// counted in code points into the raw body.
type Mention struct {
	ID        string    `json:"id"        db:"id"`
	PostID    string    `json:"postId"    db:"post_id"`
	User      string    `json:"user"      db:"mentioned_user"`
	Offset    int       `json:"offset"    db:"mention_offset"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
