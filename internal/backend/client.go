// Package backend is the Backend RPC Client (spec.md §4.6): a typed
// caller for the application backend's query/action endpoints.
//
// Grounded on original_source/convex.rs: fixed client header, recursive
// null-pruning of args before send, and the HTTP-560-is-an-application-
// error special case. The typed-HTTP-client shape (marshal, header,
// status check, decode) follows internal/ocr/mistral.go from the
// teacher.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	clientHeaderName  = "Convex-Client"
	clientHeaderValue = "npm-1.26.2"
	// applicationErrorStatus is the HTTP status the backend uses to
	// signal an application-level (not transport) error, per
	// original_source/convex.rs.
	applicationErrorStatus = 560
)

// Client calls the backend's query/action RPC surface.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

type envelope struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
}

// Query calls a backend query path.
func (c *Client) Query(ctx context.Context, path string, args map[string]any) (json.RawMessage, error) {
	return c.call(ctx, "query", path, args)
}

// Action calls a backend action path.
func (c *Client) Action(ctx context.Context, path string, args map[string]any) (json.RawMessage, error) {
	return c.call(ctx, "action", path, args)
}

func (c *Client) call(ctx context.Context, kind, path string, args map[string]any) (json.RawMessage, error) {
	pruned := pruneNulls(args)

	body, err := json.Marshal(map[string]any{
		"path":   path,
		"format": "convex_encoded_json",
		"args":   []any{pruned},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/api/%s", c.BaseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(clientHeaderName, clientHeaderValue)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call backend %s %s: %w", kind, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != applicationErrorStatus {
		return nil, fmt.Errorf("backend %s %s failed with status %d: %s", kind, path, resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}

	switch env.Status {
	case "success":
		return env.Value, nil
	case "error":
		return nil, fmt.Errorf("backend %s %s: %s", kind, path, env.ErrorMessage)
	default:
		return nil, fmt.Errorf("backend %s %s: invalid response status %q", kind, path, env.Status)
	}
}

// pruneNulls recursively removes object keys whose value is null and
// recurses into arrays, matching original_source/convex.rs's
// prune_null_object_fields. Keeps argument shapes clean for the
// backend's decoder.
func pruneNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if child == nil {
				continue
			}
			out[k] = pruneNulls(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = pruneNulls(child)
		}
		return out
	default:
		return v
	}
}
