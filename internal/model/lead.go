package model

import "time"

// Unqualified reason codes recorded on a lead.
const (
	ReasonLowReach   = "low-reach"
	ReasonAIRejected = "ai-rejected"
)

// Profile holds the denormalized attributes returned by profile enrichment.
// Field set mirrors what the enrichment scraper exposes for an account.
type Profile struct {
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	Biography      string `json:"biography,omitempty"`
	ExternalURL    string `json:"external_url,omitempty"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	MediaCount     int    `json:"media_count"`
	IsPrivate      bool   `json:"is_private"`
	IsVerified     bool   `json:"is_verified"`
	Category       string `json:"category,omitempty"`
}

// Lead is the durable, owner-scoped record for a contributor. Natural key is
// (username, owner). Qualified is nil while the verdict is unknown; Seeds
// accumulates every seed that ever surfaced this contributor.
type Lead struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Profile           Profile   `json:"profile"`
	Qualified         *bool     `json:"qualified,omitempty"`
	UnqualifiedReason string    `json:"unqualified_reason,omitempty"`
	Seeds             []string  `json:"seeds"`
	JobID             string    `json:"job_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Processed reports whether the lead already carries a verdict and should be
// excluded from re-qualification unless the job forces reprocessing.
func (l *Lead) Processed() bool {
	return l.Qualified != nil
}
