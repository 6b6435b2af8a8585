package httpadapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// WhatsApp Cloud API webhook notification, reduced to the fields the intake
// workflow reads.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *webhookText        `json:"text,omitempty"`
	Interactive *webhookInteractive `json:"interactive,omitempty"`
	Button      *webhookButton      `json:"button,omitempty"`
	Image       *webhookMedia       `json:"image,omitempty"`
	Document    *webhookMedia       `json:"document,omitempty"`
	Video       *webhookMedia       `json:"video,omitempty"`
	Audio       *webhookMedia       `json:"audio,omitempty"`
	Sticker     *webhookMedia       `json:"sticker,omitempty"`
}

type webhookText struct {
	Body string `json:"body"`
}

type webhookInteractive struct {
	Type        string        `json:"type"`
	ButtonReply *webhookReply `json:"button_reply,omitempty"`
	ListReply   *webhookReply `json:"list_reply,omitempty"`
}

type webhookReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type webhookButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

// parsedMessage is one message of a notification. Event is nil for message
// types the workflow does not handle.
type parsedMessage struct {
	Type  string
	Event *domain.InboundEvent
}

func parseWebhook(body []byte, now time.Time) ([]parsedMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var out []parsedMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				out = append(out, parsedMessage{Type: msg.Type, Event: toInboundEvent(msg, now)})
			}
		}
	}
	return out, nil
}

func toInboundEvent(msg webhookMessage, now time.Time) *domain.InboundEvent {
	if strings.TrimSpace(msg.From) == "" {
		return nil
	}
	event := domain.InboundEvent{
		ID:         msg.ID,
		UserID:     msg.From,
		ReceivedAt: messageTime(msg.Timestamp, now),
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return nil
		}
		event.Kind = domain.EventReply
		event.Text = msg.Text.Body
	case "interactive":
		reply := interactiveReply(msg.Interactive)
		if reply == nil {
			return nil
		}
		// Button ids carry the canonical reply; titles may be truncated.
		event.Kind = domain.EventReply
		event.Text = firstNonBlank(reply.ID, reply.Title)
	case "button":
		if msg.Button == nil {
			return nil
		}
		event.Kind = domain.EventReply
		event.Text = firstNonBlank(msg.Button.Payload, msg.Button.Text)
	case "image", "document", "video", "audio", "sticker":
		media, kind := mediaOf(msg)
		if media == nil || media.ID == "" {
			return nil
		}
		event.Kind = domain.EventFile
		event.File = &domain.FilePayload{
			Kind:     kind,
			MediaID:  media.ID,
			MimeType: media.MimeType,
			Filename: media.Filename,
			Caption:  media.Caption,
		}
	default:
		return nil
	}
	return &event
}

func interactiveReply(in *webhookInteractive) *webhookReply {
	if in == nil {
		return nil
	}
	switch {
	case in.ButtonReply != nil:
		return in.ButtonReply
	case in.ListReply != nil:
		return in.ListReply
	default:
		return nil
	}
}

func mediaOf(msg webhookMessage) (*webhookMedia, domain.MediaKind) {
	switch msg.Type {
	case "image":
		return msg.Image, domain.MediaImage
	case "sticker":
		return msg.Sticker, domain.MediaImage
	case "document":
		return msg.Document, domain.MediaDocument
	case "video":
		return msg.Video, domain.MediaVideo
	case "audio":
		return msg.Audio, domain.MediaAudio
	default:
		return nil, domain.MediaUnknown
	}
}

func messageTime(raw string, now time.Time) time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return now
	}
	return time.Unix(seconds, 0).UTC()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
