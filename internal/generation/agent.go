package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// Streamer yields output fragments from an upstream agent as they arrive.
// The sequence ends after the upstream closes the stream or on the first
// error; a non-nil error is always the last element.
type Streamer interface {
	Stream(ctx context.Context, agent Agent, prompt string) iter.Seq2[string, error]
}

// maxFrameSize bounds a single SSE line from an upstream agent.
const maxFrameSize = 1024 * 1024

// ChatClient talks to agents that stream chat events carrying an answer
// field per frame.
type ChatClient struct {
	httpClient *http.Client
}

// CompletionsClient talks to agents that stream OpenAI-style chat completion
// deltas.
type CompletionsClient struct {
	httpClient *http.Client
}

// NewChatClient creates a ChatClient. A nil client uses a default with no
// overall timeout, since generation streams are long-lived.
func NewChatClient(hc *http.Client) *ChatClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &ChatClient{httpClient: hc}
}

// NewCompletionsClient creates a CompletionsClient.
func NewCompletionsClient(hc *http.Client) *CompletionsClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &CompletionsClient{httpClient: hc}
}

// StreamerFor returns the client matching an agent backend kind.
func StreamerFor(kind string, hc *http.Client) (Streamer, error) {
	switch kind {
	case BackendChat:
		return NewChatClient(hc), nil
	case BackendCompletions:
		return NewCompletionsClient(hc), nil
	default:
		return nil, fmt.Errorf("generation: unknown backend kind %q", kind)
	}
}

type chatFrame struct {
	Event   string `json:"event"`
	Answer  string `json:"answer"`
	Message string `json:"message"`
}

// Stream sends the prompt and yields answer fragments. Frames that do not
// parse are skipped; an explicit error event terminates the stream with its
// message.
func (c *ChatClient) Stream(ctx context.Context, agent Agent, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body := map[string]any{
			"inputs":        map[string]any{},
			"query":         prompt,
			"response_mode": "streaming",
			"user":          "draftforge",
		}

		resp, err := postStream(ctx, c.httpClient, agent, strings.TrimSuffix(agent.BaseURL, "/")+"/chat-messages", body)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := newFrameScanner(resp.Body)
		for scanner.Scan() {
			data, ok := frameData(scanner.Text())
			if !ok {
				continue
			}

			var frame chatFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}

			switch frame.Event {
			case "message", "agent_message":
				if frame.Answer != "" {
					if !yield(frame.Answer, nil) {
						return
					}
				}
			case "message_end":
				return
			case "error":
				yield("", fmt.Errorf("generation: upstream error: %s", frame.Message))
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("generation: reading stream: %w", err))
		}
	}
}

type completionsFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream sends the prompt as a single user message and yields delta content.
// The literal [DONE] frame ends the stream; malformed frames are skipped.
func (c *CompletionsClient) Stream(ctx context.Context, agent Agent, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body := map[string]any{
			"model":  agent.Model,
			"stream": true,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}

		resp, err := postStream(ctx, c.httpClient, agent, strings.TrimSuffix(agent.BaseURL, "/")+"/chat/completions", body)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := newFrameScanner(resp.Body)
		for scanner.Scan() {
			data, ok := frameData(scanner.Text())
			if !ok {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var frame completionsFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			if len(frame.Choices) == 0 {
				continue
			}
			if content := frame.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("generation: reading stream: %w", err))
		}
	}
}

func postStream(ctx context.Context, hc *http.Client, agent Agent, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("generation: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("generation: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if agent.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation: calling agent: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("generation: agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return scanner
}

// frameData extracts the payload of a data: line; other SSE lines report
// false.
func frameData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
