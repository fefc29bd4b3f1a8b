package domain

import (
	"path"
	"strings"
	"time"
)

type SignalKind string

const (
	SignalMessage  SignalKind = "message"
	SignalReaction SignalKind = "reaction"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp"}

type Attachment struct {
	Filename    string `json:"filename"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// IsImage matches on the file extension, falling back to the content type.
func (a Attachment) IsImage() bool {
	ext := strings.ToLower(path.Ext(a.Filename))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

// Signal is an immutable external event observed by the chat gateway.
type Signal struct {
	Kind       SignalKind `json:"kind"`
	ID         string     `json:"id,omitempty"`
	ChannelID  string     `json:"channelId"`
	ActorID    string     `json:"actorId"`
	ActorRoles []string   `json:"actorRoles,omitempty"`
	// MessageID is the message a reaction was added to.
	MessageID   string       `json:"messageId,omitempty"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Emoji       string       `json:"emoji,omitempty"`
	Link        string       `json:"link,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// HasImage reports whether at least one attachment is an image.
func (s Signal) HasImage() bool {
	for _, a := range s.Attachments {
		if a.IsImage() {
			return true
		}
	}
	return false
}

// HasRole reports whether the acting member holds role.
func (s Signal) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range s.ActorRoles {
		if r == role {
			return true
		}
	}
	return false
}
