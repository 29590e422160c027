package parser

import (
	"encoding/json"
	"strings"
)

// Request is the typed view of an Anthropic Messages API request — the
// subset the proxy inspects. Requests that fail to decode into this shape
// are still forwarded; only the side channel loses its metadata.
type Request struct {
	Model    string           `json:"model"`
	System   Content          `json:"system"`
	Messages []Message        `json:"messages"`
	Metadata *RequestMetadata `json:"metadata"`
}

// RequestMetadata carries the client-supplied request metadata.
type RequestMetadata struct {
	UserID *string `json:"user_id"`
}

// Message is one conversation message.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or an array of content blocks; both
// appear on the wire.
type Content struct {
	Text   *string
	Blocks []ContentBlock
}

// ContentBlock is a polymorphic content element. Only text blocks are
// inspected; other variants decode with just their type tag.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = &s
		c.Blocks = nil
		return nil
	}
	c.Text = nil
	return json.Unmarshal(data, &c.Blocks)
}

// textSegments returns the plain string form, or each text-typed block.
func (c Content) textSegments() []string {
	if c.Text != nil {
		return []string{*c.Text}
	}
	var segs []string
	for _, b := range c.Blocks {
		if b.Type == "text" {
			segs = append(segs, b.Text)
		}
	}
	return segs
}

// joinedText is the message text for event emission: the plain string
// as-is, or the text blocks joined with newlines. Nil when there is no
// text content at all.
func (c Content) joinedText() *string {
	if c.Text != nil {
		return c.Text
	}
	segs := c.textSegments()
	if len(segs) == 0 {
		return nil
	}
	joined := strings.Join(segs, "\n")
	return &joined
}

// LastUserMessageText extracts the text of the most recent user-role
// message, if any.
func (r *Request) LastUserMessageText() *string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content.joinedText()
		}
	}
	return nil
}

// TextSegments yields every text segment the request carries, system
// prompt first, then messages in order. Used for marker scans over the
// request body.
func (r *Request) TextSegments() []string {
	segs := r.System.textSegments()
	for _, msg := range r.Messages {
		segs = append(segs, msg.Content.textSegments()...)
	}
	return segs
}
