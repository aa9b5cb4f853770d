package model

import "time"

// CredentialStatus is the lifecycle state of a pooled access token.
type CredentialStatus string

const (
	CredentialActive       CredentialStatus = "active"
	CredentialLimitReached CredentialStatus = "limit_reached"
	CredentialDisabled     CredentialStatus = "disabled"
)

// CredentialToken is one pooled access token for a tenant. The pool stamps
// usage on selection; rotation marks it limit_reached when the task service
// reports a rate-limit-class failure. The pipeline never deletes tokens.
type CredentialToken struct {
	ID         string           `json:"id"`
	OwnerID    string           `json:"owner_id"`
	Value      string           `json:"-"`
	Status     CredentialStatus `json:"status"`
	UseCount   int              `json:"use_count"`
	LastUsedAt *time.Time       `json:"last_used_at,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
