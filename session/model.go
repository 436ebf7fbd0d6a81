package session

import "time"

// Session is the decoded form of a stored session record.
type Session struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	UserAgent string
	IP        string
}

// Metadata is the client information captured when a session is created.
type Metadata struct {
	UserAgent string
	IP        string
}
