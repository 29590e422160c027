// Package parser normalizes LLM provider responses into a structured form.
//
// A ResponseParser folds a provider's wire format — either a complete JSON
// document or an SSE byte stream — into one ParsedResponse. Parsers are
// forgiving by contract: they never return an error, and unrecognized
// content simply leaves the corresponding field unset.
package parser

import (
	"github.com/cnrmurphy/sentinel/internal/domain/entity"
)

// ParsedResponse is the normalized view of one upstream reply.
type ParsedResponse struct {
	// Thinking is the model's reasoning content, if any.
	Thinking *string `json:"thinking"`
	// Text is the final text response.
	Text *string `json:"text"`
	// ToolCalls are the tool invocations requested by the model.
	ToolCalls []entity.ToolCall `json:"tool_calls"`
	// Usage is the token consumption reported by the provider.
	Usage *entity.Usage `json:"usage"`
	// Streaming records whether the reply arrived as an SSE stream.
	Streaming bool `json:"streaming"`
	// Metadata carries provider message metadata.
	Metadata Metadata `json:"metadata"`

	// IsTopicEvent marks a topic-classifier turn. These are internal
	// bookkeeping, not conversational content, and are suppressed from
	// the event pipeline.
	IsTopicEvent bool `json:"is_topic_event"`
	// Topic is the classifier's new subject line, set only when the
	// classifier reported a topic change.
	Topic *string `json:"topic"`
}

// Metadata is provider message metadata common across parse modes.
type Metadata struct {
	Model      *string `json:"model,omitempty"`
	MessageID  *string `json:"message_id,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`
}

// AssistantResponse projects the parsed reply into its event payload form.
func (p ParsedResponse) AssistantResponse() entity.AssistantResponse {
	return entity.AssistantResponse{
		Streaming:  p.Streaming,
		Model:      p.Metadata.Model,
		MessageID:  p.Metadata.MessageID,
		StopReason: p.Metadata.StopReason,
		Thinking:   p.Thinking,
		Text:       p.Text,
		ToolCalls:  p.ToolCalls,
		Usage:      p.Usage,
	}
}

// ResponseParser parses one provider's responses. Implementations never
// fail: malformed input yields a ParsedResponse with fewer fields set.
type ResponseParser interface {
	// ParseStreaming folds a raw SSE byte stream into a ParsedResponse.
	ParseStreaming(raw []byte) ParsedResponse
	// ParseJSON parses a complete (non-streaming) JSON response body.
	ParseJSON(raw []byte) ParsedResponse
	// Provider identifies the upstream this parser understands.
	Provider() string
}
