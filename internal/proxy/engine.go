// Package proxy implements the traffic-interception pipeline: forward
// every request and response byte-for-byte while, on a side channel,
// parsing each exchange into observability events.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/broadcast"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/parser"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence"
)

// AnthropicAPIURL is the upstream base; the original path and query are
// appended verbatim.
const AnthropicAPIURL = "https://api.anthropic.com"

// streamChannelCapacity bounds the in-flight chunk buffer between the
// mirror task and the downstream writer.
const streamChannelCapacity = 32

// Options wires the engine's collaborators.
type Options struct {
	// UpstreamURL overrides the upstream base; empty means the Anthropic
	// API. Tests point it at a local server.
	UpstreamURL string
	// Client is the shared upstream HTTP client; nil builds a pooling
	// default.
	Client      *http.Client
	Parser      parser.ResponseParser
	AgentStore  *persistence.AgentStore
	EventStore  *persistence.EventStore
	Broadcaster *broadcast.Broadcaster
	Logger      *zap.Logger
}

// Engine forwards one downstream request to the upstream and mirrors the
// exchange into the observability pipeline. The byte path never depends
// on the side channel: store and broadcast failures are logged and
// swallowed.
type Engine struct {
	upstreamURL string
	client      *http.Client
	parser      parser.ResponseParser
	agents      *persistence.AgentStore
	events      *persistence.EventStore
	broadcaster *broadcast.Broadcaster
	logger      *zap.Logger
}

// NewEngine creates a proxy engine.
func NewEngine(opts Options) *Engine {
	if opts.UpstreamURL == "" {
		opts.UpstreamURL = AnthropicAPIURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Engine{
		upstreamURL: strings.TrimRight(opts.UpstreamURL, "/"),
		client:      opts.Client,
		parser:      opts.Parser,
		agents:      opts.AgentStore,
		events:      opts.EventStore,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger.With(zap.String("component", "proxy")),
	}
}

// Handle proxies one request. Mounted as the router's fallback: anything
// that is not an API route goes upstream.
func (e *Engine) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		e.logger.Warn("Failed to read request body", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	// Typed decode is best-effort: on failure the request still forwards,
	// it just produces no side-channel metadata.
	var req *parser.Request
	var decoded parser.Request
	if err := json.Unmarshal(body, &decoded); err == nil {
		req = &decoded
	}

	sessionID := extractSessionID(req)
	workingDir := extractWorkingDirectory(req)

	var agent *entity.Agent
	if sessionID != nil {
		agent, err = e.agents.GetOrCreate(c.Request.Context(), *sessionID, workingDir)
		if err != nil {
			// Identity is optional; the byte path continues without it.
			e.logger.Warn("Failed to track agent", zap.Error(err))
			agent = nil
		}
	}

	// Telemetry uploads are forwarded but never observed or logged.
	isTelemetry := strings.Contains(c.Request.URL.Path, "event_logging")

	if !isTelemetry && req != nil {
		if text := req.LastUserMessageText(); text != nil {
			e.record(c.Request.Context(), &entity.ObservabilityEvent{
				ID:        uuid.New(),
				Timestamp: time.Now().UTC(),
				SessionID: sessionID,
				Agent:     agentName(agent),
				Topic:     agentTopic(agent),
				Payload: entity.Payload{UserMessage: &entity.UserMessage{
					Model: optional(req.Model),
					Text:  *text,
				}},
			})
		}
	}

	if !isTelemetry {
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("bytes", len(body)),
		}
		if agent != nil {
			fields = append(fields, zap.String("agent", agent.Name))
		}
		e.logger.Info("→ request", fields...)
	}

	// The upstream request is deliberately not tied to the downstream
	// connection: a disconnecting client must not truncate the mirror.
	forwardURL := e.upstreamURL + c.Request.URL.RequestURI()
	forward, err := http.NewRequestWithContext(context.Background(), c.Request.Method, forwardURL, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("Failed to build forward request", zap.Error(err))
		c.Status(http.StatusBadGateway)
		return
	}
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			forward.Header.Add(name, v)
		}
	}

	resp, err := e.client.Do(forward)
	if err != nil {
		e.logger.Warn("Failed to forward request", zap.Error(err))
		c.Status(http.StatusBadGateway)
		return
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		e.handleStreamingResponse(c, resp, isTelemetry, sessionID, agent)
	} else {
		e.handleRegularResponse(c, resp, isTelemetry, sessionID, agent)
	}
}

// handleRegularResponse buffers a whole-document reply, emits its event,
// and relays it verbatim.
func (e *Engine) handleRegularResponse(c *gin.Context, resp *http.Response, isTelemetry bool, sessionID *string, agent *entity.Agent) {
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.logger.Warn("Failed to read response", zap.Error(err))
		c.Status(http.StatusBadGateway)
		return
	}

	if !isTelemetry {
		if looksLikeModelResponse(respBody) {
			parsed := e.parser.ParseJSON(respBody)
			e.emitAssistantResponse(c.Request.Context(), parsed, sessionID, agent)
		}
		e.logger.Info("← response",
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(respBody)),
		)
	}

	copyHeaders(c, resp)
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = c.Writer.Write(respBody)
}

// handleStreamingResponse relays an SSE reply chunk by chunk while a
// detached mirror task captures a complete copy for parsing. The mirror
// owns the accumulator and the channel's send side; the handler only
// drains the receive side into the downstream connection.
func (e *Engine) handleStreamingResponse(c *gin.Context, resp *http.Response, isTelemetry bool, sessionID *string, agent *entity.Agent) {
	chunks := make(chan []byte, streamChannelCapacity)
	// Closed by the handler once the downstream stops consuming; the
	// mirror then keeps accumulating without forwarding.
	gone := make(chan struct{})

	go func() {
		var closeOnce sync.Once
		closeChunks := func() {
			closeOnce.Do(func() { close(chunks) })
		}

		// The mirror outlives its request handler; a panic here must not
		// take the process down, and must still unblock the downstream
		// writer.
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Mirror task panicked",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		defer closeChunks()
		defer resp.Body.Close()

		var accumulated bytes.Buffer
		forwarding := true
		buf := make([]byte, 32*1024)

		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				accumulated.Write(chunk)
				if forwarding {
					select {
					case chunks <- chunk:
					case <-gone:
						forwarding = false
					}
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				// Truncated upstream: no event for this turn.
				e.logger.Warn("Error reading stream chunk", zap.Error(readErr))
				return
			}
		}
		closeChunks()

		if isTelemetry {
			return
		}

		parsed := e.parser.ParseStreaming(accumulated.Bytes())
		textPreview := ""
		if parsed.Text != nil {
			textPreview = truncateChars(*parsed.Text, 50)
		}

		e.emitAssistantResponse(context.Background(), parsed, sessionID, agent)

		e.logger.Info("← streaming response complete",
			zap.Int("bytes", accumulated.Len()),
			zap.String("text", textPreview),
		)
	}()

	copyHeaders(c, resp)
	c.Writer.WriteHeader(resp.StatusCode)
	flusher, _ := c.Writer.(http.Flusher)

	defer close(gone)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// emitAssistantResponse applies topic gating, then stores and broadcasts
// the response event. Classifier turns update the agent's topic and are
// themselves suppressed.
func (e *Engine) emitAssistantResponse(ctx context.Context, parsed parser.ParsedResponse, sessionID *string, agent *entity.Agent) {
	var topic *string
	if parsed.Topic != nil {
		if agent != nil {
			if err := e.agents.UpdateTopic(ctx, agent.ID, *parsed.Topic); err != nil {
				e.logger.Error("Failed to update agent topic", zap.Error(err))
			}
			agent.Topic = parsed.Topic
		}
		topic = parsed.Topic
	} else if agent != nil {
		topic = agent.Topic
	}

	if parsed.IsTopicEvent {
		return
	}

	response := parsed.AssistantResponse()
	e.record(ctx, &entity.ObservabilityEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Agent:     agentName(agent),
		Topic:     topic,
		Payload:   entity.Payload{AssistantResponse: &response},
	})
}

// record stores the event, then broadcasts it. A failed insert is logged
// and the event still fans out (with seq zero) — observability loss never
// breaks forwarding.
func (e *Engine) record(ctx context.Context, event *entity.ObservabilityEvent) {
	if err := e.events.Insert(ctx, event); err != nil {
		e.logger.Error("Failed to store event", zap.Error(err))
	}
	e.broadcaster.Publish(event)
}

// looksLikeModelResponse reports whether a JSON body carries either a
// content or type field — the shape of an LLM reply worth parsing.
func looksLikeModelResponse(body []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	_, hasContent := probe["content"]
	_, hasType := probe["type"]
	return hasContent || hasType
}

func copyHeaders(c *gin.Context, resp *http.Response) {
	header := c.Writer.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
}

func agentName(agent *entity.Agent) *string {
	if agent == nil {
		return nil
	}
	return &agent.Name
}

func agentTopic(agent *entity.Agent) *string {
	if agent == nil {
		return nil
	}
	return agent.Topic
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncateChars(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
