package nodes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNumber(t *testing.T) {
	config := map[string]any{"f": 1.5, "i": 3, "s": "42", "bad": "x"}

	assert.InDelta(t, 1.5, Number(config, "f", 0), 0.0001)
	assert.InDelta(t, 3.0, Number(config, "i", 0), 0.0001)
	assert.InDelta(t, 42.0, Number(config, "s", 0), 0.0001)
	assert.InDelta(t, 7.0, Number(config, "bad", 7), 0.0001)
	assert.InDelta(t, 9.0, Number(config, "missing", 9), 0.0001)
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "plain", Encode("plain"))
	assert.Equal(t, "12", Encode(12.0))
	assert.Equal(t, `{"a":1}`, Encode(map[string]any{"a": 1}))
	assert.Equal(t, `[1,"b"]`, Encode([]any{1, "b"}))
	assert.Equal(t, "true", Encode(true))
}

func TestDecodeJSONLike(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1.0}, DecodeJSONLike(`{"a":1}`))
	assert.Equal(t, []any{1.0}, DecodeJSONLike(`[1]`))
	assert.Equal(t, "{broken", DecodeJSONLike("{broken"))
	assert.Equal(t, "42", DecodeJSONLike("42"))
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-01T12:30:00.000Z", Timestamp(ts))
}

func TestMerge(t *testing.T) {
	got := Merge(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 3})

	assert.Equal(t, map[string]any{"a": 1, "b": 3}, got)
	assert.Equal(t, map[string]any{"x": 1}, Merge("not a map", map[string]any{"x": 1}))
}
