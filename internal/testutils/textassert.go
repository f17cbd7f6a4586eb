package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of *testing.T the asserters need
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line CLI output and reports a unified diff
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

func (ta *TextAsserter) diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.options.EnableColors {
		return unified
	}

	red, green, cyan := color.New(color.FgRed), color.New(color.FgGreen), color.New(color.FgCyan)
	red.EnableColor()
	green.EnableColor()
	cyan.EnableColor()

	lines := strings.Split(unified, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.options.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) { opts.TrimSpace = trim }
}

func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(opts *TextAssertOptions) { opts.IgnoreTrailingWhitespace = ignore }
}

func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) { opts.EnableColors = enable }
}
