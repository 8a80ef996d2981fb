package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures failures instead of failing the test.
type recorder struct {
	failures []string
}

func (r *recorder) Helper() {}
func (r *recorder) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "key order does not matter",
			actual:   `{"address": "aa:bb", "variant": "jiecang_0x00ff"}`,
			expected: `{"variant": "jiecang_0x00ff", "address": "aa:bb"}`,
			match:    true,
		},
		{
			name:     "extra keys fail by default",
			actual:   `{"address": "aa:bb", "name": null}`,
			expected: `{"address": "aa:bb"}`,
		},
		{
			name:     "extra keys ignored on request",
			opts:     []JSONOption{WithIgnoreExtraKeys(true)},
			actual:   `{"address": "aa:bb", "name": null}`,
			expected: `{"address": "aa:bb"}`,
			match:    true,
		},
		{
			name:     "presence placeholder",
			actual:   `{"height_mm": 720, "height_in": 28.1}`,
			expected: `{"height_mm": "<<PRESENCE>>", "height_in": 28.1}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"height_in": 28.1}`,
			expected: `{"height_mm": "<<PRESENCE>>", "height_in": 28.1}`,
		},
		{
			name:     "array order matters by default",
			actual:   `[{"address": "b"}, {"address": "a"}]`,
			expected: `[{"address": "a"}, {"address": "b"}]`,
		},
		{
			name:     "array order ignored on request",
			opts:     []JSONOption{WithIgnoreArrayOrder(true)},
			actual:   `[{"address": "b"}, {"address": "a"}]`,
			expected: `[{"address": "a"}, {"address": "b"}]`,
			match:    true,
		},
		{
			name:     "ignored fields do not affect sorting",
			opts:     []JSONOption{WithIgnoreArrayOrder(true), WithIgnoredFields("rssi")},
			actual:   `[{"address": "a", "rssi": -90}, {"address": "b", "rssi": -10}]`,
			expected: `[{"address": "b", "rssi": -50}, {"address": "a", "rssi": -50}]`,
			match:    true,
		},
		{
			name:     "value mismatch",
			actual:   `{"height_mm": 721}`,
			expected: `{"height_mm": 720}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			NewJSONAsserter(r).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, r.failures, "documents MUST match")
			} else {
				assert.Len(t, r.failures, 1, "mismatch MUST be reported once")
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `nope`), "invalid expected JSON")
}

func TestJSONAsserter_AssertValue(t *testing.T) {
	r := &recorder{}
	NewJSONAsserter(r).AssertValue(map[string]int{"height_mm": 720}, `{"height_mm": 720}`)
	assert.Empty(t, r.failures)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "Found 1 desk(s):\n", expected: "Found 1 desk(s):\n", match: true},
		{name: "different", actual: "Found 2 desk(s):\n", expected: "Found 1 desk(s):\n"},
		{name: "trailing newline matters", actual: "a\n", expected: "a"},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a \n", expected: "a", match: true},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t\n", expected: "a\nb\n", match: true},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n\nb", expected: "a\nb", match: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			NewTextAsserter(r).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, r.failures, "texts MUST match")
			} else {
				assert.Len(t, r.failures, 1, "mismatch MUST be reported once")
			}
		})
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	plain := NewTextAsserter(t).Diff("Sent command to move desk up\n", "Sent command to move desk down\n")
	assert.Contains(t, plain, "--- expected")
	assert.Contains(t, plain, "-Sent command to move desk down")
	assert.Contains(t, plain, "+Sent command to move desk up")

	colored := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b\n", "a  b\n")
	assert.Contains(t, colored, "\x1b[", "colored diff MUST contain ANSI escapes")
	assert.Contains(t, colored, "a··b", "whitespace MUST be visible in changed lines")
}
