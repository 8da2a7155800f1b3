package facebook

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var textPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from user-supplied text.
func CleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// WebhookEvent is the body Graph posts to the page webhook.
type WebhookEvent struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Changes   []WebhookChange    `json:"changes"`
	Messaging []WebhookMessaging `json:"messaging"`
}

type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	Item      string `json:"item"`
	Verb      string `json:"verb"`
	CommentID string `json:"comment_id"`
	PostID    string `json:"post_id"`
	Message   string `json:"message"`
	From      struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
}

// IsNewComment reports a comment added to the page feed.
func (c WebhookChange) IsNewComment() bool {
	return c.Field == "feed" && c.Value.Item == "comment" && c.Value.Verb == "add" && c.Value.CommentID != ""
}

type WebhookMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

// InboundText returns the text of a message sent to the page, skipping
// echoes of the page's own messages.
func (m WebhookMessaging) InboundText() (string, bool) {
	if m.Message == nil || m.Message.IsEcho || m.Sender.ID == "" {
		return "", false
	}
	text := CleanText(m.Message.Text)
	return text, text != ""
}
