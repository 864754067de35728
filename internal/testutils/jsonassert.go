package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value.
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"`
	AllowPresencePlaceholder bool `default:"true"`
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// WithStrictKeys reports keys present only in the actual document.
func WithStrictKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = false }
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns an ASCII diff of the two documents, or "" when they match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual map[string]interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresence(expected, actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	out, _ := f.Format(diff)
	return out
}

// replacePresence copies actual values over placeholders.
func replacePresence(expected, actual map[string]interface{}) {
	for k, v := range expected {
		switch ev := v.(type) {
		case string:
			if ev == PresencePlaceholder {
				if av, ok := actual[k]; ok {
					expected[k] = av
				}
			}
		case map[string]interface{}:
			if av, ok := actual[k].(map[string]interface{}); ok {
				replacePresence(ev, av)
			}
		}
	}
}

// pruneExtraKeys drops actual keys the expected document does not mention.
func pruneExtraKeys(actual, expected map[string]interface{}) {
	for k, v := range actual {
		ev, ok := expected[k]
		if !ok {
			delete(actual, k)
			continue
		}
		am, aok := v.(map[string]interface{})
		em, eok := ev.(map[string]interface{})
		if aok && eok {
			pruneExtraKeys(am, em)
		}
	}
}
