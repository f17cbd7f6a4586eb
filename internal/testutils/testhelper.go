package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := test.NewLocal(logger)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Entries returns recorded log messages at or above level
func (h *TestHelper) Entries(level logrus.Level) []string {
	var out []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			out = append(out, e.Message)
		}
	}
	return out
}

func CreateGlove() *GloveBuilder {
	return NewGloveBuilder()
}
