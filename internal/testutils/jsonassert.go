package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as
// the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the subset of testing.T the asserters report to.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys that expected does not mention.
	IgnoreExtraKeys  bool `default:"false"`
	IgnoreArrayOrder bool `default:"false"`
	// IgnoredFields are removed from objects at any depth on both sides.
	IgnoredFields []string
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithIgnoreArrayOrder(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents structurally and reports a gojsondiff
// rendering on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	return ja
}

func (ja *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		ja.t.Errorf("cannot marshal %T: %v", v, err)
		return
	}
	ja.Assert(string(data), expectedJSON)
}

// Diff returns "" when the documents match, otherwise a readable difference.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// Ignored fields go first so they cannot influence array sorting.
	for _, f := range ja.options.IgnoredFields {
		stripField(expected, f)
		stripField(actual, f)
	}
	expected, actual = ja.normalize(expected, actual)

	// gojsondiff compares objects only
	expected = map[string]any{"root": expected}
	actual = map[string]any{"root": actual}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, _ := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

// normalize walks both documents together, resolving placeholders, extra
// keys and array order.
func (ja *JSONAsserter) normalize(expected, actual any) (any, any) {
	switch exp := expected.(type) {
	case string:
		if exp == PresencePlaceholder {
			return actual, actual
		}
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return expected, actual
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
		for k, v := range exp {
			if av, ok := act[k]; ok {
				exp[k], act[k] = ja.normalize(v, av)
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return expected, actual
		}
		if ja.options.IgnoreArrayOrder {
			sortByJSON(exp)
			sortByJSON(act)
		}
		for i := range exp {
			if i < len(act) {
				exp[i], act[i] = ja.normalize(exp[i], act[i])
			}
		}
	}
	return expected, actual
}

func stripField(v any, field string) {
	switch v := v.(type) {
	case map[string]any:
		delete(v, field)
		for _, child := range v {
			stripField(child, field)
		}
	case []any:
		for _, child := range v {
			stripField(child, field)
		}
	}
}

func sortByJSON(items []any) {
	keys := make(map[int]string, len(items))
	for i, it := range items {
		b, _ := json.Marshal(it)
		keys[i] = string(b)
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	sorted := make([]any, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}
