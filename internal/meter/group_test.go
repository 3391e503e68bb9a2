package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestat/pipestat/internal/event"
)

func TestValueListDerive(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Templates: []string{"http_%{response}", "%{method}"},
	})

	ev := event.New(map[string]any{
		"response": "200",
		"method":   "GET",
	})

	assert.Equal(t, "http_200,GET", codec.Derive(ev))
}

func TestValueListDeriveMissingField(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Templates: []string{"http_%{response}", "%{method}"},
	})

	// Absent fields expand to the empty string, keeping segment
	// positions stable.
	ev := event.New(map[string]any{"response": "200"})

	assert.Equal(t, "http_200,", codec.Derive(ev))
}

func TestValueListDecompose(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Templates: []string{"http_%{response}", "%{method}"},
	})

	fields := codec.Decompose("http_200,GET")

	require.Len(t, fields, 2)
	assert.Equal(t, GroupField{Name: "http_%{response}", Value: "http_200"}, fields[0])
	assert.Equal(t, GroupField{Name: "%{method}", Value: "GET"}, fields[1])
}

func TestValueListDecomposeEmptySegments(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Templates: []string{"%{a}", "%{b}", "%{c}"},
	})

	fields := codec.Decompose(",,")

	require.Len(t, fields, 3)
	for _, f := range fields {
		assert.Empty(t, f.Value)
	}
}

func TestNamedDerive(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Names:     []string{"status", "verb"},
		Templates: []string{"%{response}", "%{method}"},
		Named:     true,
	})

	ev := event.New(map[string]any{
		"response": "200",
		"method":   "GET",
	})

	assert.Equal(t, "status:200,verb:GET", codec.Derive(ev))
}

func TestNamedDecompose(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Names:     []string{"status", "verb"},
		Templates: []string{"%{response}", "%{method}"},
		Named:     true,
	})

	fields := codec.Decompose("status:200,verb:GET")

	require.Len(t, fields, 2)
	assert.Equal(t, GroupField{Name: "status", Value: "200"}, fields[0])
	assert.Equal(t, GroupField{Name: "verb", Value: "GET"}, fields[1])
}

func TestNamedDecomposeEmptyValue(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Names:     []string{"status", "verb"},
		Templates: []string{"%{response}", "%{method}"},
		Named:     true,
	})

	fields := codec.Decompose("status:,verb:GET")

	require.Len(t, fields, 2)
	assert.Equal(t, GroupField{Name: "status", Value: ""}, fields[0])
	assert.Equal(t, GroupField{Name: "verb", Value: "GET"}, fields[1])
}

func TestNamedRoundTripValueContainingDelimiters(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Names:     []string{"path"},
		Templates: []string{"%{uri}"},
		Named:     true,
	})

	ev := event.New(map[string]any{"uri": "/a:b"})
	key := codec.Derive(ev)

	fields := codec.Decompose(key)
	require.Len(t, fields, 1)
	assert.Equal(t, GroupField{Name: "path", Value: "/a:b"}, fields[0])
}

func TestNamedDecomposeDelimiterInNonFinalValue(t *testing.T) {
	codec := NewKeyCodec(Groups{
		Names:     []string{"a", "b"},
		Templates: []string{"%{first}", "%{second}"},
		Named:     true,
	})

	ev := event.New(map[string]any{"first": "x,y", "second": "z"})
	key := codec.Derive(ev)
	require.Equal(t, "a:x,y,b:z", key)

	// The key delimiter inside the first value folds "y,b:z" into the
	// trailing segment, shifting the recovered names.
	fields := codec.Decompose(key)
	require.Len(t, fields, 2)
	assert.Equal(t, GroupField{Name: "a", Value: "x"}, fields[0])
	assert.Equal(t, GroupField{Name: "y,b", Value: "z"}, fields[1])
}

func TestEmptyGroupsDegenerateKey(t *testing.T) {
	codec := NewKeyCodec(Groups{})

	ev := event.New(map[string]any{"response": "200"})

	// Every event collapses into the single empty key.
	assert.Equal(t, "", codec.Derive(ev))
	assert.Empty(t, codec.Decompose(""))
	assert.Equal(t, 0, codec.Len())
}

func TestSplitSegmentsPadding(t *testing.T) {
	assert.Equal(t, []string{"a", "b", ""}, splitSegments("a,b", 3))
	assert.Equal(t, []string{"a", "b,c"}, splitSegments("a,b,c", 2))
	assert.Nil(t, splitSegments("whatever", 0))
}
