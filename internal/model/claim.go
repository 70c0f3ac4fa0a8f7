package model

import "time"

// Claim records which identity is working an issue.
type Claim struct {
	IssueID    string     `json:"issue_id"`
	Holder     string     `json:"holder"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Live reports whether the claim is unreleased and unexpired at now.
func (c *Claim) Live(now time.Time) bool {
	if c.ReleasedAt != nil {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// Expired reports whether an unreleased claim has passed its expiry at now.
func (c *Claim) Expired(now time.Time) bool {
	return c.ReleasedAt == nil && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
