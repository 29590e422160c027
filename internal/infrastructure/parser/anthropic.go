package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
)

// AnthropicParser parses Anthropic Messages API responses.
//
// Anthropic SSE events:
//   - message_start         → initial message metadata
//   - content_block_start   → new content block (text, tool_use, thinking)
//   - content_block_delta   → incremental update to current block
//   - content_block_stop    → current block finished
//   - message_delta         → stop_reason + final usage
//   - message_stop          → stream complete
type AnthropicParser struct{}

// NewAnthropicParser creates an Anthropic response parser.
func NewAnthropicParser() *AnthropicParser {
	return &AnthropicParser{}
}

// Provider implements ResponseParser.
func (p *AnthropicParser) Provider() string {
	return "anthropic"
}

// ParseStreaming implements ResponseParser. It keys off the "type" field of
// each data record rather than the SSE "event:" line, so streams with or
// without event framing parse the same way. Blank lines, comments,
// keepalives, and malformed JSON records are skipped.
func (p *AnthropicParser) ParseStreaming(raw []byte) ParsedResponse {
	acc := newStreamAccumulator()

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		acc.feedLine(scanner.Text())
	}
	// A scanner error means an over-long line; the parser stays forgiving
	// and finalizes whatever folded cleanly.

	return acc.finish()
}

// ParseJSON implements ResponseParser for whole-document responses.
func (p *AnthropicParser) ParseJSON(raw []byte) ParsedResponse {
	var doc struct {
		ID         string `json:"id"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type     string          `json:"type"`
			Text     string          `json:"text"`
			Thinking string          `json:"thinking"`
			ID       string          `json:"id"`
			Name     string          `json:"name"`
			Input    json.RawMessage `json:"input"`
		} `json:"content"`
		Usage *wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ParsedResponse{}
	}

	parsed := ParsedResponse{
		Metadata: Metadata{
			Model:      optional(doc.Model),
			MessageID:  optional(doc.ID),
			StopReason: optional(doc.StopReason),
		},
	}

	for _, block := range doc.Content {
		switch block.Type {
		case "text":
			parsed.Text = optional(block.Text)
		case "thinking":
			parsed.Thinking = optional(block.Thinking)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			parsed.ToolCalls = append(parsed.ToolCalls, entity.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		case "tool_result":
			// Tool output echoes back as user content; not part of the reply.
		}
	}

	if doc.Usage != nil {
		parsed.Usage = doc.Usage.toUsage()
	}

	parsed.IsTopicEvent, parsed.Topic = detectTopic(parsed.Text)
	return parsed
}

// streamEvent is one decoded SSE data record.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage"`
}

// wireUsage is the provider's usage object.
type wireUsage struct {
	InputTokens         *int64 `json:"input_tokens"`
	OutputTokens        *int64 `json:"output_tokens"`
	CacheReadTokens     *int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens *int64 `json:"cache_creation_input_tokens"`
}

func (u *wireUsage) toUsage() *entity.Usage {
	return &entity.Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
	}
}

// pendingTool tracks a tool_use block being streamed.
type pendingTool struct {
	id    string
	name  string
	input strings.Builder
}

// streamAccumulator folds SSE data records into a ParsedResponse. Feeding
// the same lines in the same order produces the same result regardless of
// how the stream was split between feeds.
type streamAccumulator struct {
	thinking  strings.Builder
	text      strings.Builder
	toolCalls []entity.ToolCall
	usage     *entity.Usage
	meta      Metadata
	pending   *pendingTool
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (a *streamAccumulator) feedLine(line string) {
	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return
	}

	var evt streamEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return
	}

	switch evt.Type {
	case "message_start":
		if evt.Message != nil {
			a.meta.Model = optional(evt.Message.Model)
			a.meta.MessageID = optional(evt.Message.ID)
		}

	case "content_block_start":
		if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
			a.pending = &pendingTool{
				id:   evt.ContentBlock.ID,
				name: evt.ContentBlock.Name,
			}
		}

	case "content_block_delta":
		if evt.Delta == nil {
			return
		}
		switch evt.Delta.Type {
		case "text_delta":
			a.text.WriteString(evt.Delta.Text)
		case "thinking_delta":
			a.thinking.WriteString(evt.Delta.Thinking)
		case "input_json_delta":
			if a.pending != nil {
				a.pending.input.WriteString(evt.Delta.PartialJSON)
			}
		case "signature_delta":
			// Thinking-block signatures carry no content.
		}

	case "content_block_stop":
		if a.pending != nil {
			a.toolCalls = append(a.toolCalls, a.pending.finalize())
			a.pending = nil
		}

	case "message_delta":
		if evt.Delta != nil && evt.Delta.StopReason != "" {
			a.meta.StopReason = optional(evt.Delta.StopReason)
		}
		if evt.Usage != nil {
			a.usage = evt.Usage.toUsage()
		}

	case "message_stop", "ping":
		// No accumulator effect.
	}
}

func (a *streamAccumulator) finish() ParsedResponse {
	parsed := ParsedResponse{
		Thinking:  optional(a.thinking.String()),
		Text:      optional(a.text.String()),
		ToolCalls: a.toolCalls,
		Usage:     a.usage,
		Streaming: true,
		Metadata:  a.meta,
	}
	parsed.IsTopicEvent, parsed.Topic = detectTopic(parsed.Text)
	return parsed
}

// finalize parses the accumulated partial-JSON buffer; a buffer that never
// became valid JSON degrades to an empty input object.
func (t *pendingTool) finalize() entity.ToolCall {
	input := json.RawMessage("{}")
	if buf := t.input.String(); buf != "" && json.Valid([]byte(buf)) {
		input = json.RawMessage(buf)
	}
	return entity.ToolCall{ID: t.id, Name: t.name, Input: input}
}

// topicProbe is the topic-classifier reply shape. Any assistant text that
// strict-decodes to exactly this shape is treated as a classifier turn.
type topicProbe struct {
	IsNewTopic *bool   `json:"isNewTopic"`
	Title      *string `json:"title"`
}

// detectTopic reports whether text is a topic-classifier reply and, when
// the classifier declared a new topic, the new subject line.
func detectTopic(text *string) (bool, *string) {
	if text == nil {
		return false, nil
	}
	trimmed := strings.TrimSpace(*text)
	if !strings.HasPrefix(trimmed, "{") {
		return false, nil
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var probe topicProbe
	if err := dec.Decode(&probe); err != nil || probe.IsNewTopic == nil || dec.More() {
		return false, nil
	}

	if *probe.IsNewTopic {
		return true, probe.Title
	}
	return true, nil
}

// optional collapses the wire format's empty strings to absent.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
