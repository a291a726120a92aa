package anythingllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client talks to the AnythingLLM workspace API with bearer-token auth.
type Client struct {
	BaseURL   string
	APIKey    string
	Workspace string

	// httpClient carries the request timeout for the standard path.
	// streamClient has no timeout; streaming lifetime is context-bound.
	httpClient   *http.Client
	streamClient *http.Client
}

// APIError is a non-2xx or transport-level upstream failure. Its detail is
// for server logs only, never for clients.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("anythingllm: status %d: %s", e.StatusCode, e.Message)
	}
	return "anythingllm: " + e.Message
}

// Attachment is a base64 data-URL payload forwarded with a chat message.
type Attachment struct {
	Name          string `json:"name"`
	Mime          string `json:"mime"`
	ContentString string `json:"contentString"`
}

type Workspace struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func NewClient(baseURL, apiKey, workspace string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		Workspace:    workspace,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

func (c *Client) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.Workspace != ""
}

type chatRequest struct {
	Message     string       `json:"message"`
	Mode        string       `json:"mode"`
	SessionID   string       `json:"sessionId"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Chat posts one message to the workspace and returns the raw decoded body
// for Normalize to interpret.
func (c *Client) Chat(ctx context.Context, message, sessionID, mode string, att *Attachment) (map[string]any, error) {
	if !c.Configured() {
		return nil, &APIError{Message: "not configured"}
	}
	if mode == "" {
		mode = "chat"
	}

	body := chatRequest{Message: message, Mode: mode, SessionID: sessionID}
	if att != nil && att.ContentString != "" {
		body.Attachments = []Attachment{*att}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "anythingllm: encode chat request")
	}

	url := fmt.Sprintf("%s/api/v1/workspace/%s/chat", c.BaseURL, c.Workspace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "anythingllm: build chat request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// TestConnection fetches the workspace and returns its display name.
// Distinguishes auth failures and a missing workspace for admin feedback.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	if c.BaseURL == "" || c.APIKey == "" || c.Workspace == "" {
		return "", &APIError{Message: "not configured"}
	}

	url := fmt.Sprintf("%s/api/v1/workspace/%s", c.BaseURL, c.Workspace)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "anythingllm: build test request")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &APIError{StatusCode: resp.StatusCode, Message: "invalid or expired API key"}
	case resp.StatusCode == http.StatusNotFound:
		return "", &APIError{StatusCode: resp.StatusCode, Message: "workspace not found"}
	case resp.StatusCode != http.StatusOK:
		return "", &APIError{StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	var decoded struct {
		Workspace Workspace `json:"workspace"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &APIError{Message: "malformed workspace response"}
	}
	if decoded.Workspace.Name == "" {
		return c.Workspace, nil
	}
	return decoded.Workspace.Name, nil
}

// Workspaces lists the workspaces visible to the API key.
func (c *Client) Workspaces(ctx context.Context) ([]Workspace, error) {
	url := c.BaseURL + "/api/v1/workspaces"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "anythingllm: build workspaces request")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	var decoded struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &APIError{Message: "malformed workspaces response"}
	}
	return decoded.Workspaces, nil
}

// UploadFile relays a document into the workspace via multipart POST.
func (c *Client) UploadFile(ctx context.Context, filename, mimeType string, data []byte) (map[string]any, error) {
	if !c.Configured() {
		return nil, &APIError{Message: "not configured"}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, "anythingllm: build multipart")
	}
	if _, err := part.Write(data); err != nil {
		return nil, errors.Wrap(err, "anythingllm: write multipart")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "anythingllm: close multipart")
	}
	_ = mimeType // upstream sniffs the part content

	url := fmt.Sprintf("%s/api/v1/workspace/%s/upload", c.BaseURL, c.Workspace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "anythingllm: build upload request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	return decodeBody(resp)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
}

func decodeBody(resp *http.Response) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	var raw map[string]any
	if len(body) > 0 {
		// tolerate a non-JSON error body; raw stays nil
		_ = json.Unmarshal(body, &raw)
	}

	if resp.StatusCode >= 400 {
		msg := "api error"
		if m, ok := raw["message"].(string); ok && m != "" {
			msg = m
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if raw == nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	return raw, nil
}
