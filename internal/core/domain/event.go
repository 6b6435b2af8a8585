package domain

import "time"

type EventKind string

const (
	EventWelcome EventKind = "welcome"
	EventFile    EventKind = "file"
	EventReply   EventKind = "reply"
)

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaUnknown  MediaKind = "unknown"
)

// FilePayload is the channel-specific description of an inbound file.
type FilePayload struct {
	Kind     MediaKind `json:"kind"`
	MediaID  string    `json:"media_id,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	Filename string    `json:"filename,omitempty"`
	URL      string    `json:"url,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// Reference returns the origin identifier used for download and diagnostics.
func (p FilePayload) Reference() string {
	if p.URL != "" {
		return p.URL
	}
	return p.MediaID
}

type InboundEvent struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Kind       EventKind    `json:"kind"`
	Text       string       `json:"text,omitempty"`
	File       *FilePayload `json:"file,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type OutboundMessage struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// MediaContent is what the classifier sees of a queued file.
type MediaContent struct {
	Filename string
	MimeType string
	Data     []byte
}
