// Package httprequest provides the HTTP request executor.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/template"
)

// DefaultTimeout applies when the node config has no timeout.
const DefaultTimeout = 30 * time.Second

// Executor issues HTTP calls described by the node config.
type Executor struct {
	client *http.Client
}

// New returns an HTTP request executor. A nil client uses http.DefaultClient's transport.
func New(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{}
	}

	return &Executor{client: client}
}

// Execute performs the request. Transport failures and non-2xx responses are reported as
// error results, never as Go errors.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	scope := template.Scope(inputs, variables)

	method := strings.ToUpper(nodes.String(config, "method", http.MethodGet))
	url := template.Interpolate(nodes.String(config, "url", ""), scope)
	timeout := time.Duration(nodes.Number(config, "timeout", float64(DefaultTimeout.Milliseconds()))) * time.Millisecond

	_ = nodeCtx.Log(ctx, "info", fmt.Sprintf("Making %s request to: %s", method, url), nil)

	req, err := e.buildRequest(ctx, method, url, config, scope)
	if err != nil {
		_ = nodeCtx.Log(ctx, "error", "HTTP request failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "Request setup failed",
			"details": err.Error(),
		}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.client.Do(req.WithContext(reqCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		_ = nodeCtx.Log(ctx, "error", "HTTP request failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "No response received from server",
			"details": err.Error(),
		}, nil
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = nodeCtx.Log(ctx, "error", "HTTP request failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "No response received from server",
			"details": err.Error(),
		}, nil
	}

	data := decodeBody(raw)
	statusText := http.StatusText(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("Request failed with status code %d", resp.StatusCode)
		_ = nodeCtx.Log(ctx, "error", "HTTP request failed: "+message, nil)

		return map[string]any{
			"error":      true,
			"status":     resp.StatusCode,
			"statusText": statusText,
			"data":       data,
			"message":    message,
		}, nil
	}

	_ = nodeCtx.Log(ctx, "info", fmt.Sprintf("HTTP request successful. Status: %d", resp.StatusCode), nil)

	return map[string]any{
		"status":     resp.StatusCode,
		"statusText": statusText,
		"data":       data,
		"success":    true,
	}, nil
}

func (e *Executor) buildRequest(ctx context.Context, method, url string, config map[string]any, scope map[string]any) (*http.Request, error) {
	if url == "" {
		return nil, errors.New("missing required field 'url'")
	}

	var body io.Reader

	if hasBody(method) {
		payload, err := encodeBody(config["body"], scope)
		if err != nil {
			return nil, err
		}

		if payload != nil {
			body = strings.NewReader(string(payload))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, template.Interpolate(fmt.Sprint(value), scope))
		}
	}

	return req, nil
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func encodeBody(body any, scope map[string]any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		if b == "" {
			return nil, nil
		}

		return []byte(template.Interpolate(b, scope)), nil
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}

		return payload, nil
	}
}

func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return ""
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return string(raw)
	}

	return data
}
