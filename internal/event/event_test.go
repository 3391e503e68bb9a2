package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	ev := New(map[string]any{"response": 200})

	v, ok := ev.Get("response")
	require.True(t, ok)
	assert.Equal(t, 200, v)

	_, ok = ev.Get("missing")
	assert.False(t, ok)

	ev.Set("verb", "GET")

	v, _ = ev.Get("verb")
	assert.Equal(t, "GET", v)

	// Set replaces existing values.
	ev.Set("verb", "POST")

	v, _ = ev.Get("verb")
	assert.Equal(t, "POST", v)
}

func TestGetString(t *testing.T) {
	ev := New(map[string]any{
		"str":   "value",
		"int":   42,
		"float": float64(200),
		"nil":   nil,
	})

	assert.Equal(t, "value", ev.GetString("str"))
	assert.Equal(t, "42", ev.GetString("int"))
	assert.Equal(t, "200", ev.GetString("float"))
	assert.Equal(t, "", ev.GetString("nil"))
	assert.Equal(t, "", ev.GetString("absent"))
}

func TestSprintf(t *testing.T) {
	ev := New(map[string]any{
		"response": "200",
		"verb":     "GET",
	})

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"single reference", "http_%{response}", "http_200"},
		{"multiple references", "%{verb} %{response}", "GET 200"},
		{"missing field expands empty", "http_%{missing}", "http_"},
		{"no references", "static", "static"},
		{"adjacent references", "%{verb}%{response}", "GET200"},
		{"empty template", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.Sprintf(tt.template))
		})
	}
}

func TestFieldsIsACopy(t *testing.T) {
	ev := New(map[string]any{"a": 1})

	fields := ev.Fields()
	fields["b"] = 2

	_, ok := ev.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, ev.Len())
}

func TestNewNilMap(t *testing.T) {
	ev := New(nil)

	assert.Equal(t, 0, ev.Len())

	ev.Set("k", "v")
	assert.Equal(t, "v", ev.GetString("k"))
}

func TestJSONRoundTrip(t *testing.T) {
	ev := New(map[string]any{"host": "a", "event": float64(3)})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "a", decoded.GetString("host"))

	count, ok := decoded.Get("event")
	require.True(t, ok)
	assert.Equal(t, float64(3), count)
}
