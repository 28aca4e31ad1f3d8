package types

import "time"

// Attachment describes a file attached to a Message.
type Attachment struct {
	Path string `json:"path"`
	MIME string `json:"mime_type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is a single row recovered from the Messages.app store by the
// store reader (C2), enriched with chat/handle context and, when the
// plaintext column was empty, text decoded from the attributedBody blob.
type Message struct {
	RowID                int64
	Timestamp            time.Time
	Sender               string // handle id (phone) of the sender, for both group and 1:1 chats
	Text                 string
	ChatID               string // phone for 1:1, opaque UUID for groups
	IsFromMe             bool
	IsGroup              bool
	IsAudioMessage       bool
	GroupName            string
	AudioTranscription   string
	ThreadOriginatorGUID string
	Attachments          []Attachment
}

// HasAudioTranscription reports whether speech-to-text text was recovered.
func (m Message) HasAudioTranscription() bool {
	return m.AudioTranscription != ""
}
