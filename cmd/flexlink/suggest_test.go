package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/flexlink/internal/testutils"
)

const lettersYAML = `
alice:
  - letter: A
    values: [10, 80, 85, 82, 79]
  - letter: B
    values: [80, 5, 4, 6, 3]
`

type SuggestCommandSuite struct {
	CommandTestSuite
	db string
}

func (s *SuggestCommandSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.db = filepath.Join(s.T().TempDir(), "letters.yaml")
	s.Require().NoError(os.WriteFile(s.db, []byte(lettersYAML), 0o600))
}

func (s *SuggestCommandSuite) TestMatch() {
	err := s.ExecuteCommand("suggest", "--db", s.db, "--user", "alice", "10,80,85,82,79")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(s.stdout.String(), "A (100% match)")
}

func (s *SuggestCommandSuite) TestNoMatch() {
	err := s.ExecuteCommand("suggest", "--db", s.db, "--user", "alice", "500,500,500,500,500")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(s.stdout.String(), "- (no match)")
}

func (s *SuggestCommandSuite) TestUnknownUser() {
	err := s.ExecuteCommand("suggest", "--db", s.db, "--user", "bob", "10,80,85,82,79")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(s.stdout.String(), "- (no match)")
}

func (s *SuggestCommandSuite) TestJSON() {
	err := s.ExecuteCommand("suggest", "--db", s.db, "--user", "alice", "--json", "11,80,85,82,79")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(s.stdout.String(), `{"letter": "A", "similarity": 0.5}`)
}

func (s *SuggestCommandSuite) TestErrors() {
	s.ErrorContains(s.ExecuteCommand("suggest", "--db", s.db, "1,x,3"), `invalid value "x"`)

	resetFlags(suggestCmd)
	s.ErrorContains(s.ExecuteCommand("suggest", "--db", s.db, "--threshold", "2", "1"), "threshold must be between 0 and 1")

	resetFlags(suggestCmd)
	s.ErrorContains(s.ExecuteCommand("suggest", "--db", filepath.Join(s.T().TempDir(), "none.yaml"), "1"), "failed to open snapshots")

	resetFlags(suggestCmd)
	s.ErrorContains(s.ExecuteCommand("suggest", "--db", s.db, " , "), "no values given")
}

func TestSuggestCommandSuite(t *testing.T) {
	suite.Run(t, new(SuggestCommandSuite))
}
