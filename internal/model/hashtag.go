package model

import "time"

// Hashtag is a normalized (case-folded) tag with its usage counter.
// UsageCount equals the number of distinct posts currently linking the tag —
// a post that repeats "#go #go #go" counts once.
type Hashtag struct {
	ID         string    `json:"id"         db:"id"`
	Tag        string    `json:"tag"        db:"tag"`
	UsageCount int       `json:"usageCount" db:"usage_count"`
	FirstSeen  time.Time `json:"firstSeen"  db:"first_seen"`
	LastSeen   time.Time `json:"lastSeen"   db:"last_seen"`
}
