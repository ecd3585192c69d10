// Package chatmodel is the streaming HTTP client for the chat/completions
// service (an external collaborator per spec §1). Grounded on
// go-chat-service's processWithOllama (POST to an Ollama-shaped
// endpoint, JSON body/response), generalized to streamed
// newline-delimited JSON deltas so the Chat Orchestrator (C8) can forward
// content as it arrives instead of waiting for one final response.
package chatmodel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"knowledge-hub/internal/apperr"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string) *Client {
	return &Client{baseURL: baseURL, model: model, httpClient: &http.Client{}}
}

type streamRequest struct {
	Model       string     `json:"model"`
	Messages    []ChatTurn `json:"messages"`
	Temperature float64    `json:"temperature"`
	TopP        float64    `json:"top_p"`
	MaxTokens   int        `json:"max_tokens"`
	Stream      bool       `json:"stream"`
}

type streamDelta struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Stream posts the conversation and invokes onDelta for each non-empty
// content fragment as it is decoded from the response body, matching
// spec §4.8 step 5's "for each non-empty content delta" framing. There is
// no overall request deadline: the chat-stream timeout is open-ended per
// spec §5, and the caller's context governs cancellation.
func (c *Client) Stream(ctx context.Context, turns []ChatTurn, temperature, topP float64, maxTokens int, onDelta func(string)) error {
	body, err := json.Marshal(streamRequest{
		Model: c.model, Messages: turns, Temperature: temperature, TopP: topP, MaxTokens: maxTokens, Stream: true,
	})
	if err != nil {
		return apperr.Upstream("marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return apperr.Upstream("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream("call chat service", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.Upstream("chat service rejected request", nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var delta streamDelta
		if err := json.Unmarshal(line, &delta); err != nil {
			continue
		}
		if delta.Message.Content != "" {
			onDelta(delta.Message.Content)
		}
		if delta.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return apperr.Upstream("read chat stream", err)
	}
	return nil
}
