package model

// Stats is the aggregate snapshot served by /api/stats.
type Stats struct {
	Users             int       `json:"users"`
	Posts             int       `json:"posts"`
	PostsToday        int       `json:"postsToday"`
	TrendingHashtags  []Hashtag `json:"trendingHashtags"`
	ConnectedSessions int       `json:"connectedSessions"`
}
