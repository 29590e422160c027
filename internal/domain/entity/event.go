package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ObservabilityEvent is one recorded conversational turn. Seq is assigned
// by the event store at insertion; zero means not yet stored.
type ObservabilityEvent struct {
	Seq       int64     `json:"seq"`
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID *string   `json:"session_id"`
	Agent     *string   `json:"agent"`
	Topic     *string   `json:"topic"`
	Payload   Payload   `json:"payload"`
}

// PayloadKind discriminates the payload union.
type PayloadKind string

const (
	PayloadUserMessage       PayloadKind = "user_message"
	PayloadAssistantResponse PayloadKind = "assistant_response"
)

// Payload is a tagged union: exactly one of the variant pointers is set.
// It serializes with the variant's fields inlined next to a "type" tag.
type Payload struct {
	UserMessage       *UserMessage
	AssistantResponse *AssistantResponse
}

// Kind reports which variant is set.
func (p Payload) Kind() PayloadKind {
	if p.UserMessage != nil {
		return PayloadUserMessage
	}
	return PayloadAssistantResponse
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch {
	case p.UserMessage != nil:
		return json.Marshal(struct {
			Type PayloadKind `json:"type"`
			*UserMessage
		}{PayloadUserMessage, p.UserMessage})
	case p.AssistantResponse != nil:
		return json.Marshal(struct {
			Type PayloadKind `json:"type"`
			*AssistantResponse
		}{PayloadAssistantResponse, p.AssistantResponse})
	default:
		return nil, fmt.Errorf("payload has no variant set")
	}
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type PayloadKind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case PayloadUserMessage:
		var um UserMessage
		if err := json.Unmarshal(data, &um); err != nil {
			return err
		}
		p.UserMessage = &um
		p.AssistantResponse = nil
	case PayloadAssistantResponse:
		var ar AssistantResponse
		if err := json.Unmarshal(data, &ar); err != nil {
			return err
		}
		p.AssistantResponse = &ar
		p.UserMessage = nil
	default:
		return fmt.Errorf("unknown payload type %q", tag.Type)
	}
	return nil
}

// UserMessage is the last user-role message of a forwarded request.
type UserMessage struct {
	Model *string `json:"model"`
	Text  string  `json:"text"`
}

// AssistantResponse is the parsed upstream reply.
type AssistantResponse struct {
	Streaming  bool       `json:"streaming"`
	Model      *string    `json:"model"`
	MessageID  *string    `json:"message_id"`
	StopReason *string    `json:"stop_reason"`
	Thinking   *string    `json:"thinking"`
	Text       *string    `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	Usage      *Usage     `json:"usage"`
}

// ToolCall is one tool invocation requested by the model. Input is kept as
// raw JSON; the proxy never interprets it.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage reports token consumption for one turn.
type Usage struct {
	InputTokens         *int64 `json:"input_tokens"`
	OutputTokens        *int64 `json:"output_tokens"`
	CacheReadTokens     *int64 `json:"cache_read_tokens"`
	CacheCreationTokens *int64 `json:"cache_creation_tokens"`
}
