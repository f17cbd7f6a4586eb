package session_test

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/flexlink/internal/decode"
	"github.com/srg/flexlink/internal/session"
	"github.com/srg/flexlink/internal/testutils"
)

// SessionSuite runs a Session against a mocked glove
type SessionSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	clock     *clock.Mock
	transport *testutils.MockTransport
	gatt      *testutils.MockGatt
	session   *session.Session
	recorder  *testutils.Recorder
}

func (s *SessionSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *SessionSuite) TearDownTest() {
	if s.session != nil {
		_ = s.session.Disconnect()
	}
}

// useGlove builds the session around the given glove and configures it with specs
func (s *SessionSuite) useGlove(b *testutils.GloveBuilder, specs []session.CharacteristicSpec, opts ...session.Option) {
	s.transport, s.gatt = b.Build()
	opts = append([]session.Option{
		session.WithLogger(s.helper.Logger),
		session.WithClock(s.clock),
	}, opts...)
	s.session = session.New(s.transport, opts...)
	s.Require().NoError(s.session.Configure(decode.GloveService, specs))
	s.recorder = testutils.RecordSession(s.session)
}

// connect runs ScanAndConnect and SubscribeAll and expects both to succeed
func (s *SessionSuite) connect() {
	ctx := context.Background()
	s.Require().NoError(s.session.ScanAndConnect(ctx, time.Second))
	s.Require().NoError(s.session.SubscribeAll(ctx))
}

// scanAsync starts ScanAndConnect in the background
func (s *SessionSuite) scanAsync(timeout time.Duration) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.session.ScanAndConnect(context.Background(), timeout)
	}()
	return done
}

func (s *SessionSuite) waitErr(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		s.FailNow("operation did not complete")
		return nil
	}
}

func gloveSpecs() []session.CharacteristicSpec {
	specs := make([]session.CharacteristicSpec, 0, 3)
	for _, ch := range decode.GloveDefaults() {
		fn, err := decode.Lookup(ch.Decoder, ch.Params)
		if err != nil {
			panic(err)
		}
		specs = append(specs, session.CharacteristicSpec{UUID: ch.UUID, Channel: ch.Name, Decode: session.DecodeFunc(fn)})
	}
	return specs
}

func flexSpec() []session.CharacteristicSpec {
	return gloveSpecs()[:1]
}
