package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	walkPairs(expected, actual, func(exp, act map[string]interface{}) {
		for _, field := range ja.options.IgnoredFields {
			delete(exp, field)
			delete(act, field)
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
			}
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
	})

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// walkPairs visits every object present at the same path in both documents
func walkPairs(expected, actual interface{}, fn func(exp, act map[string]interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		fn(exp, act)
		for k := range exp {
			walkPairs(exp[k], act[k], fn)
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				walkPairs(exp[i], act[i], fn)
			}
		}
	}
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}

func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = fields }
}
