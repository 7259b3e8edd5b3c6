package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/logmapper/internal/mapping"
)

// WorkflowResult is the terminal payload of a start or resume call.
type WorkflowResult struct {
	ThreadID string        `json:"thread_id"`
	Output   []mapping.Row `json:"output"`
	Message  string        `json:"message,omitempty"`
}

// ToolCall is one tool invocation recorded inside a thought step. Args and
// Output arrive as either plain strings or structured values.
type ToolCall struct {
	Name   string `json:"name"`
	Args   any    `json:"args,omitempty"`
	Output any    `json:"output,omitempty"`
}

// ThoughtStep is one incremental reasoning event streamed during a start or
// resume call.
type ThoughtStep struct {
	NodeName    string     `json:"node_name"`
	MessageType string     `json:"message_type"`
	Content     string     `json:"content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
}

// Thought message types.
const (
	MessageTypeAI   = "AIMessage"
	MessageTypeTool = "ToolMessage"
)

// UnmarshalJSON normalizes tool_calls: the wire may deliver a single object
// or a sequence, both decode to a slice.
func (s *ThoughtStep) UnmarshalJSON(data []byte) error {
	type alias struct {
		NodeName    string          `json:"node_name"`
		MessageType string          `json:"message_type"`
		Content     string          `json:"content"`
		ToolCalls   json.RawMessage `json:"tool_calls"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	s.NodeName = a.NodeName
	s.MessageType = a.MessageType
	s.Content = a.Content
	s.ToolCalls = nil

	raw := bytes.TrimSpace(a.ToolCalls)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '{' {
		var one ToolCall
		if err := json.Unmarshal(raw, &one); err != nil {
			return fmt.Errorf("tool_calls object: %w", err)
		}
		s.ToolCalls = []ToolCall{one}
		return nil
	}
	if err := json.Unmarshal(raw, &s.ToolCalls); err != nil {
		return fmt.Errorf("tool_calls sequence: %w", err)
	}
	return nil
}

// ThoughtEvent is a thought step tagged with the agent that produced it
// ("mapper" or "corrector-N").
type ThoughtEvent struct {
	Agent string      `json:"agent"`
	Step  ThoughtStep `json:"step"`
}

// ThoughtSink consumes incremental thought events in arrival order. Sinks run
// synchronously on the demux path; a sink that panics is isolated and does not
// abort processing of the remaining stream.
type ThoughtSink func(ThoughtEvent)

// APIError is the normalized failure of a workflow call. Status is the HTTP
// status code, or 0 for network and payload failures. Message is the one
// user-facing line for the failure; callers surface it as-is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unauthorized reports whether the failure must force a global logout.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// statusMessage maps a non-2xx status to its fixed user-facing message. The
// verb ("start", "resume", "generate") varies the text; the status→category
// mapping is identical for every call.
func statusMessage(verb string, status int) string {
	switch status {
	case http.StatusBadRequest:
		return fmt.Sprintf("Invalid request: could not %s the workflow", verb)
	case http.StatusUnauthorized:
		return "Authentication failed. Please log in again"
	case http.StatusForbidden:
		return fmt.Sprintf("Access denied: you are not allowed to %s this workflow", verb)
	case http.StatusNotFound:
		return fmt.Sprintf("Endpoint not found for %s", verb)
	case http.StatusUnprocessableEntity:
		return fmt.Sprintf("Validation failed: the %s request was rejected", verb)
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait and try again"
	case http.StatusInternalServerError:
		return fmt.Sprintf("Server error while trying to %s the workflow", verb)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "Service unavailable. Please try again later"
	default:
		return fmt.Sprintf("Could not %s the workflow: unexpected status %d", verb, status)
	}
}

// networkMessage is the generic message for failures that never produced a
// response.
func networkMessage(verb string) string {
	return fmt.Sprintf("Network error: could not reach the server to %s the workflow", verb)
}
