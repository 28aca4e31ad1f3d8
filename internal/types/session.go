package types

import "time"

// SessionType distinguishes a one-to-one chat session from a group session.
type SessionType string

const (
	SessionIndividual SessionType = "individual"
	SessionGroup      SessionType = "group"
)

// SessionData is the persisted record for one chat's tmux/Claude session.
// created_at is immutable once set; updated_at is bumped on every register
// or last-message update.
type SessionData struct {
	ChatID          string      `json:"chat_id"`
	SessionName     string      `json:"session_name"`
	TranscriptDir   string      `json:"transcript_dir"`
	SessionType     SessionType `json:"type"`
	ContactName     string      `json:"contact_name,omitempty"`
	DisplayName     string      `json:"display_name,omitempty"`
	Tier            string      `json:"tier,omitempty"`
	Participants    []string    `json:"participants,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastMessageTime *time.Time  `json:"last_message_time,omitempty"`
}
