package whatsapp

import (
	"fmt"
	"strings"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// Cloud API limits.
const (
	maxReplyButtons    = 3
	maxListRows        = 10
	maxButtonTitle     = 20
	maxRowTitle        = 24
	maxRowDescription  = 72
	maxInteractiveBody = 1024
	maxTextBody        = 4096
	listButtonLabel    = "Opciones"
)

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply reply  `json:"reply"`
}

type listRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type action struct {
	Buttons  []replyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []listSection `json:"sections,omitempty"`
}

type interactiveBody struct {
	Text string `json:"text"`
}

type interactive struct {
	Type   string          `json:"type"`
	Body   interactiveBody `json:"body"`
	Action action          `json:"action"`
}

type message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

// buildMessage maps buttons onto what the channel can render: up to three
// become reply buttons, up to ten an interactive list, and anything larger a
// numbered text menu.
func buildMessage(to string, msg domain.OutboundMessage) message {
	out := message{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}

	switch n := len(msg.Buttons); {
	case n == 0:
		out.Type = "text"
		out.Text = &textBody{Body: truncate(msg.Text, maxTextBody)}
	case n <= maxReplyButtons:
		body := &interactive{Type: "button", Body: interactiveBody{Text: truncate(msg.Text, maxInteractiveBody)}}
		for _, b := range msg.Buttons {
			body.Action.Buttons = append(body.Action.Buttons, replyButton{
				Type:  "reply",
				Reply: reply{ID: b.ID, Title: truncate(b.Title, maxButtonTitle)},
			})
		}
		out.Type = "interactive"
		out.Interactive = body
	case n <= maxListRows:
		body := &interactive{Type: "list", Body: interactiveBody{Text: truncate(msg.Text, maxInteractiveBody)}}
		rows := make([]listRow, 0, n)
		for _, b := range msg.Buttons {
			row := listRow{ID: b.ID, Title: truncate(b.Title, maxRowTitle)}
			if row.Title != b.Title {
				row.Description = truncate(b.Title, maxRowDescription)
			}
			rows = append(rows, row)
		}
		body.Action.Button = listButtonLabel
		body.Action.Sections = []listSection{{Title: listButtonLabel, Rows: rows}}
		out.Type = "interactive"
		out.Interactive = body
	default:
		var b strings.Builder
		b.WriteString(msg.Text)
		b.WriteString("\n")
		for i, button := range msg.Buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, button.Title)
		}
		out.Type = "text"
		out.Text = &textBody{Body: truncate(b.String(), maxTextBody)}
	}
	return out
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
