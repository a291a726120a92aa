package anythingllm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

type streamChunk struct {
	TextResponse string `json:"textResponse"`
	Close        bool   `json:"close"`
	Error        any    `json:"error"`
}

// StreamChat relays the workspace's event stream as text chunks. Both
// channels close when the stream ends; the caller's context cancels the
// upstream request (client disconnect propagates promptly).
func (c *Client) StreamChat(ctx context.Context, message, sessionID string) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if !c.Configured() {
			errs <- &APIError{Message: "not configured"}
			return
		}

		body, err := json.Marshal(chatRequest{
			Message:   message,
			Mode:      "chat",
			SessionID: sessionID,
		})
		if err != nil {
			errs <- errors.Wrap(err, "anythingllm: encode stream request")
			return
		}

		url := fmt.Sprintf("%s/api/v1/workspace/%s/stream-chat", c.BaseURL, c.Workspace)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- errors.Wrap(err, "anythingllm: build stream request")
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(req)
		if err != nil {
			errs <- &APIError{Message: err.Error()}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- &APIError{StatusCode: resp.StatusCode, Message: "stream rejected"}
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			// SSE framing: payload rides on "data:" lines
			payload, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			payload = strings.TrimSpace(payload)
			if payload == "" {
				continue
			}

			var decoded streamChunk
			if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
				// tolerate non-JSON keepalives
				continue
			}
			if s, ok := decoded.Error.(string); ok && s != "" {
				errs <- &APIError{Message: s}
				return
			}
			if decoded.TextResponse != "" {
				select {
				case chunks <- decoded.TextResponse:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			// terminal sentinel from the workspace
			if decoded.Close {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- &APIError{Message: err.Error()}
		}
	}()

	return chunks, errs
}
