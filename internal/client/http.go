package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// HTTPClient talks to the eventhub HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// --- Events ---

// Publish sends one event. idempotencyKey may be empty.
func (c *HTTPClient) Publish(ctx context.Context, in *model.PublishInput, idempotencyKey string) (*model.Event, error) {
	var resp struct {
		Event *model.Event `json:"event"`
	}
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": {idempotencyKey}}
	}
	if err := c.do(ctx, http.MethodPost, "/events", headers, in, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

func (c *HTTPClient) Events(ctx context.Context, q EventsQuery) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/events"+filterQuery(q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Webhooks ---

func (c *HTTPClient) RegisterWebhook(ctx context.Context, req *RegisterWebhookRequest) (string, error) {
	var resp struct {
		WebhookID string `json:"webhookId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/webhooks", req, &resp); err != nil {
		return "", err
	}
	return resp.WebhookID, nil
}

func (c *HTTPClient) ListWebhooks(ctx context.Context) ([]*model.WebhookView, error) {
	var resp struct {
		Webhooks []*model.WebhookView `json:"webhooks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/webhooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

func (c *HTTPClient) GetWebhook(ctx context.Context, id string) (*model.WebhookView, error) {
	var resp struct {
		Webhook *model.WebhookView `json:"webhook"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/webhooks/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhook, nil
}

func (c *HTTPClient) UpdateWebhook(ctx context.Context, id string, patch *model.WebhookPatch) error {
	return c.doJSON(ctx, http.MethodPatch, "/webhooks/"+url.PathEscape(id), patch, nil)
}

func (c *HTTPClient) DeleteWebhook(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil)
}

// --- Operations ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Watch opens the live stream and calls fn for every data frame, including
// the connected handshake, until ctx is done, the server closes the stream,
// or fn returns an error. Keepalive comments are skipped.
func (c *HTTPClient) Watch(ctx context.Context, q EventsQuery, fn func(StreamFrame) error) error {
	q.Limit = 0
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream"+filterQuery(q), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 4<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var frame StreamFrame
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &frame); err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func filterQuery(q EventsQuery) string {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.Source != "" {
		v.Set("source", q.Source)
	}
	if q.Since != nil {
		v.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.Until != nil {
		v.Set("until", q.Until.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func apiError(status int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	return c.do(ctx, method, path, nil, body, result)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, headers http.Header, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
