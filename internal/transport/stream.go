package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// maxStreamLine bounds one NDJSON line; mapping payloads for large samples
// run to a few hundred KB.
const maxStreamLine = 4 << 20

// demux splits a start/resume response into incremental thought events and
// the terminal mapping payload. Streamed bodies are NDJSON (one event per
// line, SSE "data:" prefixes tolerated); a plain JSON body is treated as a
// result-only response. Events reach the sink strictly in arrival order.
func (c *Client) demux(resp *http.Response, sink ThoughtSink) (*WorkflowResult, error) {
	ct := resp.Header.Get("Content-Type")
	if !isStreamContentType(ct) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return decodeResult(body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	var result *WorkflowResult
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			c.log.Warn().Err(err).Msg("skipping undecodable stream line")
			continue
		}

		switch probe.Type {
		case "thought":
			// two-pass decode: ThoughtStep owns its own UnmarshalJSON for
			// tool_calls normalization, the envelope only adds the agent
			var env struct {
				Agent string `json:"agent"`
			}
			var step ThoughtStep
			if err := json.Unmarshal(line, &env); err != nil {
				c.log.Warn().Err(err).Msg("skipping malformed thought event")
				continue
			}
			if err := json.Unmarshal(line, &step); err != nil {
				c.log.Warn().Err(err).Msg("skipping malformed thought event")
				continue
			}
			c.deliver(sink, ThoughtEvent{Agent: env.Agent, Step: step})
		case "result", "":
			res, err := decodeResult(line)
			if err != nil {
				return nil, err
			}
			result = res
		default:
			c.log.Debug().Str("type", probe.Type).Msg("ignoring unknown stream event")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("stream ended without a mapping payload")
	}
	return result, nil
}

// deliver pushes one event into the sink, isolating sink failures from
// transport progress: a panicking consumer must not abort the remaining
// stream.
func (c *Client) deliver(sink ThoughtSink, ev ThoughtEvent) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Interface("panic", r).Msg("thought sink panicked; continuing stream")
		}
	}()
	sink(ev)
}

// decodeResult parses the terminal mapping payload. The payload is produced
// by an LLM pipeline server-side, so a strict parse failure gets one repair
// pass before giving up.
func decodeResult(data []byte) (*WorkflowResult, error) {
	var res WorkflowResult
	if err := json.Unmarshal(data, &res); err == nil {
		return &res, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(data))
	if err != nil {
		return nil, fmt.Errorf("mapping payload unparseable: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &res); err != nil {
		return nil, fmt.Errorf("mapping payload unparseable after repair: %w", err)
	}
	return &res, nil
}

func isStreamContentType(ct string) bool {
	return strings.HasPrefix(ct, "application/x-ndjson") ||
		strings.HasPrefix(ct, "application/jsonl") ||
		strings.HasPrefix(ct, "text/event-stream")
}
