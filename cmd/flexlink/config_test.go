package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/flexlink/pkg/config"
)

type ConfigCommandSuite struct {
	CommandTestSuite
}

func (s *ConfigCommandSuite) TestPrintsDefaults() {
	s.Require().NoError(s.ExecuteCommand("config"))

	out := s.stdout.String()
	s.Contains(out, "4fafc201-1fb5-459e-8fcc-c5c9c331914b")
	s.Contains(out, "scan_timeout: 10s")

	// output is itself a loadable config
	cfg, err := config.Parse(strings.NewReader(out))
	s.Require().NoError(err)
	s.Equal([]string{"flex", "battery", "accel"}, cfg.Channels.Names())
}

func (s *ConfigCommandSuite) TestMergesFile() {
	path := filepath.Join(s.T().TempDir(), "flexlink.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("transport: web\nlisten: 0.0.0.0:9000\n"), 0o600))

	s.Require().NoError(s.ExecuteCommand("config", "--config", path))
	s.Contains(s.stdout.String(), "transport: web")
	s.Contains(s.stdout.String(), "0.0.0.0:9000")
}

func (s *ConfigCommandSuite) TestBadFile() {
	path := filepath.Join(s.T().TempDir(), "flexlink.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("output_format: xml\n"), 0o600))

	s.ErrorContains(s.ExecuteCommand("config", "--config", path), "output_format")
}

func TestConfigCommandSuite(t *testing.T) {
	suite.Run(t, new(ConfigCommandSuite))
}
