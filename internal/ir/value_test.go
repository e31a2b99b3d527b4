package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeysUTF16Order(t *testing.T) {
	obj := Object{
		"a":  Int(1),
		"A":  Int(2),
		"aa": Int(3),
		"aA": Int(4),
		"Aa": Int(5),
		"AA": Int(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestObjectSortedKeysSurrogatePairs(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D ...), which sorts before
	// U+FF21 in UTF-16 even though it sorts after it in UTF-8.
	obj := Object{"\U0001F600": Int(1), "\uFF21": Int(2)}

	assert.Equal(t, []string{"\U0001F600", "\uFF21"}, obj.SortedKeys())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil nil", nil, nil, true},
		{"nil int", nil, Int(0), false},
		{"same string", String("x"), String("x"), true},
		{"string vs int", String("1"), Int(1), false},
		{"bools", Bool(true), Bool(false), false},
		{"arrays", Array{Int(1), String("a")}, Array{Int(1), String("a")}, true},
		{"array length", Array{Int(1)}, Array{Int(1), Int(2)}, false},
		{"objects", NewObject(O("hp", Int(3))), Object{"hp": Int(3)}, true},
		{"object missing key", Object{"hp": Int(3)}, Object{"mp": Int(3)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"name":  "kobold",
		"hp":    float64(7),
		"tags":  []any{"small", true},
		"count": json.Number("12"),
	})
	require.NoError(t, err)

	want := NewObject(
		O("name", String("kobold")),
		O("hp", Int(7)),
		O("tags", Array{String("small"), Bool(true)}),
		O("count", Int(12)),
	)
	assert.True(t, Equal(want, v), "got %s", Format(v))
}

func TestFromAnyRejectsFloatsAndNull(t *testing.T) {
	_, err := FromAny(1.5)
	assert.Error(t, err)

	_, err = FromAny(json.Number("2.0"))
	assert.Error(t, err)

	_, err = FromAny(nil)
	assert.Error(t, err)

	_, err = FromAny([]any{"ok", nil})
	assert.ErrorContains(t, err, "array[1]")
}

func TestParseLiteral(t *testing.T) {
	assert.Equal(t, Bool(true), ParseLiteral("true"))
	assert.Equal(t, Int(12), ParseLiteral("12"))
	assert.Equal(t, String("hello"), ParseLiteral(`"hello"`))
	assert.Equal(t, String("hello world"), ParseLiteral("hello world"))
	assert.Equal(t, String("1.5"), ParseLiteral("1.5"))
}

func TestToAnyRoundTrip(t *testing.T) {
	v := NewObject(O("a", Array{Int(1), Bool(false)}), O("b", String("c")))

	back, err := FromAny(ToAny(v))
	require.NoError(t, err)
	assert.True(t, Equal(v, back))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "<unset>", Format(nil))
	assert.Equal(t, `{"a":1,"b":"x"}`, Format(Object{"b": String("x"), "a": Int(1)}))
}
