package model

import "time"

// Post is a content item discovered under a seed. Natural key is
// (external_id, owner); upserted, never duplicated.
type Post struct {
	ExternalID   string    `json:"external_id"`
	OwnerID      string    `json:"owner_id"`
	URL          string    `json:"url"`
	Seed         string    `json:"seed"`
	JobID        string    `json:"job_id"`
	Caption      string    `json:"caption,omitempty"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// Comment is an engagement record attributed to a contributor username.
// Append-only; duplicates across reruns are suppressed by the natural key
// (external_id, owner) at insert time.
type Comment struct {
	ExternalID string    `json:"external_id"`
	PostURL    string    `json:"post_url"`
	OwnerID    string    `json:"owner_id"`
	Username   string    `json:"username"`
	Body       string    `json:"body"`
	JobID      string    `json:"job_id"`
	CreatedAt  time.Time `json:"created_at"`
}
