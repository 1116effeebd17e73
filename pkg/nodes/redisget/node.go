// Package redisget provides the executor that reads keys from Redis.
package redisget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowgraph/pkg/nodes"
	"github.com/dukex/flowgraph/pkg/protocol"
	"github.com/dukex/flowgraph/pkg/template"
	"github.com/redis/go-redis/v9"
)

// Executor reads a key of the configured data type.
type Executor struct {
	client redis.UniversalClient
}

// New returns a Redis GET executor using client.
func New(client redis.UniversalClient) *Executor {
	return &Executor{client: client}
}

// Execute reads config.key. A missing key yields a not-found result, failures an error result.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	rawKey := nodes.String(config, "key", "")
	key := template.Interpolate(rawKey, template.Scope(inputs, variables))
	dataType := nodes.String(config, "dataType", "string")
	parseJSON := nodes.Bool(config, "parseJson", true)

	_ = nodeCtx.Log(ctx, "info", "Getting Redis key: "+key, nil)

	value, err := e.read(ctx, key, dataType, parseJSON)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		_ = nodeCtx.Log(ctx, "error", "Redis GET failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "Redis GET operation failed",
			"details": err.Error(),
			"key":     rawKey,
		}, nil
	}

	if value == nil {
		_ = nodeCtx.Log(ctx, "warn", "Redis key not found: "+key, nil)

		return map[string]any{
			"success": false,
			"found":   false,
			"key":     key,
			"value":   nil,
			"message": "Key not found",
		}, nil
	}

	_ = nodeCtx.Log(ctx, "info", "Successfully retrieved Redis key: "+key, nil)

	return map[string]any{
		"success":   true,
		"found":     true,
		"key":       key,
		"value":     value,
		"dataType":  dataType,
		"timestamp": nodes.Timestamp(time.Now()),
	}, nil
}

// read returns nil when the key does not exist or holds an empty collection.
func (e *Executor) read(ctx context.Context, key, dataType string, parseJSON bool) (any, error) {
	if e.client == nil {
		return nil, errors.New("redis client is not configured")
	}

	decode := func(s string) any {
		if parseJSON {
			return nodes.DecodeJSONLike(s)
		}

		return s
	}

	switch dataType {
	case "string":
		s, err := e.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		if s == "" {
			return s, nil
		}

		return decode(s), nil
	case "hash":
		fields, err := e.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}

		if len(fields) == 0 {
			return nil, nil
		}

		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = decode(v)
		}

		return out, nil
	case "list":
		items, err := e.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, err
		}

		return decodeMembers(items, decode), nil
	case "set":
		members, err := e.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, err
		}

		return decodeMembers(members, decode), nil
	case "json":
		s, err := e.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		parsed, err := decodeJSON(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON value: %w", err)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported data type: %s", dataType)
	}
}

func decodeMembers(items []string, decode func(string) any) any {
	if len(items) == 0 {
		return nil
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, decode(item))
	}

	return out
}

func decodeJSON(s string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}

	return out, nil
}
