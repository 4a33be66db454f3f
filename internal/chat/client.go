package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/contextmgr"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client talks to an OpenAI-compatible /chat/completions endpoint. Replies
// are streamed server-side and surfaced through the onDelta callback.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("chat base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("chat model is required")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Respond(ctx context.Context, messages []contextmgr.Message, onDelta func(string)) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to complete")
	}
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}
	stream := onDelta != nil
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Messages: wire, Stream: stream})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion http call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	if stream {
		return readStream(resp.Body, onDelta)
	}
	return readCompletion(resp.Body)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed completionChunk
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, msg)
}

func readCompletion(body io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	var parsed completionChunk
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// readStream consumes SSE "data:" lines until the [DONE] marker, feeding
// deltas to onDelta and accumulating the full reply.
func readStream(body io.Reader, onDelta func(string)) (string, error) {
	var reply strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		onDelta(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read completion stream: %w", err)
	}
	return reply.String(), nil
}
