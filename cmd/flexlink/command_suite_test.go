package main

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/flexlink/internal/device"
	"github.com/srg/flexlink/internal/testutils"
	"github.com/srg/flexlink/pkg/config"
)

// syncBuffer is a bytes.Buffer safe for the output goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs flexlink commands against a mocked glove
type CommandTestSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	transport *testutils.MockTransport
	gatt      *testutils.MockGatt
	stdout    *syncBuffer
	stderr    *syncBuffer

	savedFactory func(*config.Config, *logrus.Logger, io.Writer) (device.Transport, func() error, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	color.NoColor = true
	s.stdout = &syncBuffer{}
	s.stderr = &syncBuffer{}
	s.savedFactory = transportFactory
	s.useGlove(testutils.CreateGlove().WithStockCharacteristics())

	for _, cmd := range []*cobra.Command{rootCmd, streamCmd, suggestCmd, configCmd} {
		resetFlags(cmd)
	}
}

func (s *CommandTestSuite) TearDownTest() {
	transportFactory = s.savedFactory
}

func (s *CommandTestSuite) useGlove(b *testutils.GloveBuilder) {
	s.transport, s.gatt = b.Build()
	transportFactory = func(*config.Config, *logrus.Logger, io.Writer) (device.Transport, func() error, error) {
		return s.transport, func() error { return nil }, nil
	}
}

// ExecuteCommand runs flexlink with args and returns its error
func (s *CommandTestSuite) ExecuteCommand(args ...string) error {
	rootCmd.SetOut(s.stdout)
	rootCmd.SetErr(s.stderr)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// StdoutLines returns non-empty stdout lines
func (s *CommandTestSuite) StdoutLines() []string {
	var lines []string
	for _, l := range strings.Split(s.stdout.String(), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// resetFlags restores flag defaults between runs of the shared commands
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
}
