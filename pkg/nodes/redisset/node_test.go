package redisset

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Executor) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, New(client)
}

func TestExecutor_Execute_String(t *testing.T) {
	mr, executor := setup(t)

	got, err := executor.Execute(context.Background(), map[string]any{
		"key":   "greeting:{{lang}}",
		"value": "hello {{name}}",
	}, map[string]any{"lang": "en", "name": "bob"}, nil)
	require.NoError(t, err)

	stored, err := mr.Get("greeting:en")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", stored)

	out := got.(map[string]any)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "greeting:en", out["key"])
	assert.Equal(t, "hello bob", out["value"])
	assert.Equal(t, "OK", out["result"])
	assert.Nil(t, out["ttl"])
	assert.Equal(t, "bob", out["name"])
}

func TestExecutor_Execute_DefaultsToInputs(t *testing.T) {
	inputs := map[string]any{"id": 1.0, "tags": []any{"a"}}

	for _, value := range []any{nil, "", "${JSON.stringify(data)}", "[object Object]"} {
		mr, executor := setup(t)

		_, err := executor.Execute(context.Background(), map[string]any{"key": "k", "value": value}, inputs, nil)
		require.NoError(t, err)

		stored, err := mr.Get("k")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1,"tags":["a"]}`, stored)
	}
}

func TestExecutor_Execute_TTL(t *testing.T) {
	mr, executor := setup(t)

	got, err := executor.Execute(context.Background(), map[string]any{"key": "k", "value": "v", "ttl": 60.0}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, mr.TTL("k"))
	assert.Equal(t, int64(60), got.(map[string]any)["ttl"])
}

func TestExecutor_Execute_Collections(t *testing.T) {
	mr, executor := setup(t)
	ctx := context.Background()

	_, err := executor.Execute(ctx, map[string]any{
		"key": "h", "dataType": "hash", "value": map[string]any{"name": "ana", "meta": map[string]any{"x": 1.0}},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ana", mr.HGet("h", "name"))
	assert.Equal(t, `{"x":1}`, mr.HGet("h", "meta"))

	_, err = executor.Execute(ctx, map[string]any{"key": "l", "dataType": "list", "value": []any{"a", 2.0}}, nil, nil)
	require.NoError(t, err)

	list, err := mr.List("l")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "2"}, list)

	_, err = executor.Execute(ctx, map[string]any{"key": "s", "dataType": "set", "value": "solo", "ttl": 5.0}, nil, nil)
	require.NoError(t, err)

	members, err := mr.Members("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, members)
	assert.Equal(t, 5*time.Second, mr.TTL("s"))

	_, err = executor.Execute(ctx, map[string]any{"key": "j", "dataType": "json", "value": "text"}, nil, nil)
	require.NoError(t, err)

	stored, err := mr.Get("j")
	require.NoError(t, err)
	assert.Equal(t, `"text"`, stored)
}

func TestExecutor_Execute_HashRequiresObject(t *testing.T) {
	_, executor := setup(t)

	got, err := executor.Execute(context.Background(), map[string]any{"key": "h", "dataType": "hash", "value": "scalar"}, nil, nil)
	require.NoError(t, err)

	out := got.(map[string]any)
	assert.Equal(t, true, out["error"])
	assert.Equal(t, "Redis SET operation failed", out["message"])
	assert.Equal(t, "hash data type requires an object value", out["details"])
	assert.Equal(t, "scalar", out["value"])
}
