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
	"strings"

	"github.com/Krajiyah/firebase-admin-util/internal/record"
)

// HTTPClient implements Client using the fbutil HTTP/JSON REST API.
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

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func entityPath(entity string, parts ...string) string {
	p := "/v1/entities/" + url.PathEscape(entity)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// queryValue encodes v as JSON so the server reads back the same type.
func queryValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// --- Records ---

func (c *HTTPClient) Get(ctx context.Context, entity, key string) (*record.Document, error) {
	var doc record.Document
	if err := c.doJSON(ctx, http.MethodGet, entityPath(entity, key), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *HTTPClient) List(ctx context.Context, entity string, q *Query) ([]record.Document, error) {
	v := url.Values{}
	if q != nil {
		switch {
		case len(q.Keys) > 0:
			v.Set("keys", strings.Join(q.Keys, ","))
		case q.Field != "" && q.Value != nil:
			v.Set("field", q.Field)
			v.Set("value", queryValue(q.Value))
		case q.Field != "" && q.Prefix != "":
			v.Set("field", q.Field)
			v.Set("prefix", q.Prefix)
		case q.Field != "" && (q.Lo != nil || q.Hi != nil):
			v.Set("field", q.Field)
			if q.Lo != nil {
				v.Set("lo", queryValue(q.Lo))
			}
			if q.Hi != nil {
				v.Set("hi", queryValue(q.Hi))
			}
		}
	}

	path := entityPath(entity)
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var resp ListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Create stores fields under key, or under a generated key when key is
// empty.
func (c *HTTPClient) Create(ctx context.Context, entity, key string, fields map[string]any) (*record.Document, error) {
	method, path := http.MethodPost, entityPath(entity)
	if key != "" {
		method, path = http.MethodPut, entityPath(entity, key)
	}
	var doc record.Document
	if err := c.doJSON(ctx, method, path, fields, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update merges fields into the record. Nil values delete fields.
func (c *HTTPClient) Update(ctx context.Context, entity, key string, fields map[string]any) (*record.Document, error) {
	var doc record.Document
	if err := c.doJSON(ctx, http.MethodPatch, entityPath(entity, key), fields, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *HTTPClient) Delete(ctx context.Context, entity, key string) (*record.Document, error) {
	var doc record.Document
	if err := c.doJSON(ctx, http.MethodDelete, entityPath(entity, key), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Increment atomically adds delta to a number field.
func (c *HTTPClient) Increment(ctx context.Context, entity, key, field string, delta float64) (*record.Document, error) {
	body := map[string]any{"field": field, "delta": delta}
	var doc record.Document
	if err := c.doJSON(ctx, http.MethodPost, entityPath(entity, key, "incr"), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Append atomically adds value to a list field.
func (c *HTTPClient) Append(ctx context.Context, entity, key, field string, value any) (*record.Document, error) {
	return c.listOp(ctx, "append", entity, key, field, value)
}

// Remove atomically removes value from a list field.
func (c *HTTPClient) Remove(ctx context.Context, entity, key, field string, value any) (*record.Document, error) {
	return c.listOp(ctx, "remove", entity, key, field, value)
}

func (c *HTTPClient) listOp(ctx context.Context, op, entity, key, field string, value any) (*record.Document, error) {
	body := map[string]any{"field": field, "value": value}
	var doc record.Document
	if err := c.doJSON(ctx, http.MethodPost, entityPath(entity, key, op), body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Refs fetches the records a reference field points at.
func (c *HTTPClient) Refs(ctx context.Context, entity, key, field string) (*RefsResponse, error) {
	var resp RefsResponse
	if err := c.doJSON(ctx, http.MethodGet, entityPath(entity, key, "refs", field), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Operations ---

// Schema returns the server's compiled schema as {entity: {path, fields}}.
func (c *HTTPClient) Schema(ctx context.Context) (map[string]SchemaEntity, error) {
	var resp map[string]SchemaEntity
	if err := c.doJSON(ctx, http.MethodGet, "/v1/schema", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SchemaEntity is one entry of GET /v1/schema.
type SchemaEntity struct {
	Path   string            `json:"path"`
	Fields map[string]string `json:"fields"`
}

// Integrity runs the server's integrity check. links=false skips link probes.
func (c *HTTPClient) Integrity(ctx context.Context, links bool) (json.RawMessage, error) {
	path := "/v1/integrity"
	if !links {
		path += "?links=false"
	}
	var resp json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Push sends a notification through the server.
func (c *HTTPClient) Push(ctx context.Context, req *PushRequest) (map[string]any, error) {
	var resp map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/v1/push", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- Accounts ---

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, email, password string) (map[string]any, error) {
	body := map[string]string{"email": email, "password": password}
	var resp map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/users", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) UpdateUser(ctx context.Context, uid string, update map[string]any) (map[string]any, error) {
	var resp map[string]any
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/auth/users/"+url.PathEscape(uid), update, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) DeleteUser(ctx context.Context, uid string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/auth/users/"+url.PathEscape(uid), nil, nil)
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- Streams ---

// Watch streams the records of entity matching field=value (every record
// when field is empty) until ctx is done. Existing matches arrive first.
func (c *HTTPClient) Watch(ctx context.Context, entity, field string, value any, fn func(StreamEvent)) error {
	path := "/v1/streams/" + url.PathEscape(entity)
	if field != "" && value != nil {
		path += "?" + url.Values{"field": {field}, "value": {queryValue(value)}}.Encode()
	}
	return c.stream(ctx, path, fn)
}

// Events streams the server-wide event feed, filtered by topic patterns
// such as "User.*".
func (c *HTTPClient) Events(ctx context.Context, topics []string, fn func(StreamEvent)) error {
	path := "/v1/events/stream"
	if len(topics) > 0 {
		path += "?" + url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}
	return c.stream(ctx, path, fn)
}

func (c *HTTPClient) stream(ctx context.Context, path string, fn func(StreamEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
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

	var (
		id   string
		data []byte
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimPrefix(line, "id:")
		case strings.HasPrefix(line, "data:"):
			data = []byte(strings.TrimPrefix(line, "data:"))
		case line == "" && data != nil:
			var evt StreamEvent
			if err := json.Unmarshal(data, &evt); err == nil {
				evt.ID = id
				fn(evt)
			}
			id, data = "", nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
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

func apiError(code int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code, Message: string(body)}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
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

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
