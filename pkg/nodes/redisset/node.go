// Package redisset provides the executor that writes values to Redis.
package redisset

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

// Values that editors leave behind when a template could not be built. They fall back to
// the node inputs.
var placeholders = map[string]bool{
	"${JSON.stringify(data)}": true,
	"[object Object]":         true,
}

// Executor writes a value under a key with an optional TTL.
type Executor struct {
	client redis.UniversalClient
}

// New returns a Redis SET executor using client.
func New(client redis.UniversalClient) *Executor {
	return &Executor{client: client}
}

// Execute stores the configured value, or the node inputs when no value is configured. The
// result carries the write details with the input fields laid over them.
func (e *Executor) Execute(ctx context.Context, config map[string]any, inputs any, nodeCtx *protocol.NodeContext) (any, error) {
	var variables map[string]any
	if nodeCtx != nil {
		variables = nodeCtx.Variables
	}

	scope := template.Scope(inputs, variables)
	rawKey := nodes.String(config, "key", "")
	key := template.Interpolate(rawKey, scope)
	dataType := nodes.String(config, "dataType", "string")
	ttl := int64(nodes.Number(config, "ttl", 0))

	_ = nodeCtx.Log(ctx, "info", "Setting Redis key: "+key, nil)

	value := valueToStore(config["value"], inputs)
	if s, ok := value.(string); ok {
		value = template.Interpolate(s, scope)
	}

	stored, result, err := e.write(ctx, key, dataType, value, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		_ = nodeCtx.Log(ctx, "error", "Redis SET failed: "+err.Error(), nil)

		return map[string]any{
			"error":   true,
			"message": "Redis SET operation failed",
			"details": err.Error(),
			"key":     rawKey,
			"value":   config["value"],
		}, nil
	}

	_ = nodeCtx.Log(ctx, "info", "Successfully set Redis key: "+key, nil)

	var ttlValue any
	if ttl > 0 {
		ttlValue = ttl
	}

	out := map[string]any{
		"success":   true,
		"key":       key,
		"value":     stored,
		"dataType":  dataType,
		"ttl":       ttlValue,
		"result":    result,
		"timestamp": nodes.Timestamp(time.Now()),
	}

	if obj, ok := inputs.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	}

	return out, nil
}

func valueToStore(configured any, inputs any) any {
	switch v := configured.(type) {
	case nil:
		return inputs
	case string:
		if v == "" || placeholders[v] {
			return inputs
		}
	}

	return configured
}

// write stores value and returns what was stored along with the Redis reply.
func (e *Executor) write(ctx context.Context, key, dataType string, value any, ttl int64) (any, any, error) {
	if e.client == nil {
		return nil, nil, errors.New("redis client is not configured")
	}

	expiration := time.Duration(ttl) * time.Second

	switch dataType {
	case "string":
		s := nodes.Encode(value)

		var (
			reply string
			err   error
		)

		if ttl > 0 {
			reply, err = e.client.SetEx(ctx, key, s, expiration).Result()
		} else {
			reply, err = e.client.Set(ctx, key, s, 0).Result()
		}

		return s, reply, err
	case "hash":
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, nil, errors.New("hash data type requires an object value")
		}

		fields := make(map[string]any, len(obj))
		for k, v := range obj {
			fields[k] = nodes.Encode(v)
		}

		reply, err := e.client.HSet(ctx, key, fields).Result()
		if err != nil {
			return nil, nil, err
		}

		return value, reply, e.expire(ctx, key, expiration)
	case "list", "set":
		members := encodeMembers(value)

		var (
			reply int64
			err   error
		)

		if dataType == "list" {
			reply, err = e.client.RPush(ctx, key, members...).Result()
		} else {
			reply, err = e.client.SAdd(ctx, key, members...).Result()
		}

		if err != nil {
			return nil, nil, err
		}

		return value, reply, e.expire(ctx, key, expiration)
	case "json":
		data, err := json.Marshal(value)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode value: %w", err)
		}

		var reply string
		if ttl > 0 {
			reply, err = e.client.SetEx(ctx, key, string(data), expiration).Result()
		} else {
			reply, err = e.client.Set(ctx, key, string(data), 0).Result()
		}

		return value, reply, err
	default:
		return nil, nil, fmt.Errorf("unsupported data type: %s", dataType)
	}
}

func (e *Executor) expire(ctx context.Context, key string, expiration time.Duration) error {
	if expiration <= 0 {
		return nil
	}

	return e.client.Expire(ctx, key, expiration).Err()
}

func encodeMembers(value any) []any {
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}

	members := make([]any, 0, len(items))
	for _, item := range items {
		members = append(members, nodes.Encode(item))
	}

	return members
}
