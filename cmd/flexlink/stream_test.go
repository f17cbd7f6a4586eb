package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/flexlink/internal/decode"
	"github.com/srg/flexlink/internal/device"
	"github.com/srg/flexlink/internal/session"
	"github.com/srg/flexlink/internal/testutils"
)

var (
	flexFrame    = []byte{10, 0, 20, 0, 30, 0, 40, 0, 50, 0}
	batteryFrame = []byte{87, 0x48, 0xe1, 0x7a, 0x40}
	accelFrame   = []byte{0x00, 0x40, 0x00, 0xc0, 0x00, 0x00}
)

type StreamCommandSuite struct {
	CommandTestSuite
}

// streamAsync runs the stream command and returns its result channel
func (s *StreamCommandSuite) streamAsync(args ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.ExecuteCommand(append([]string{"stream"}, args...)...)
	}()
	return done
}

func (s *StreamCommandSuite) waitStreaming() {
	s.Require().Eventually(func() bool {
		return strings.Contains(s.stderr.String(), "Streaming ")
	}, 2*time.Second, 5*time.Millisecond, "stream never subscribed; stderr:\n%s", s.stderr.String())
}

func (s *StreamCommandSuite) waitDone(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("stream did not return")
		return nil
	}
}

func (s *StreamCommandSuite) TestTextOutput() {
	done := s.streamAsync()
	s.waitStreaming()

	s.Require().True(s.gatt.Notify(decode.GloveFlexUUID, flexFrame))
	s.Require().True(s.gatt.Notify(decode.GloveBatteryUUID, batteryFrame))
	s.Require().True(s.gatt.Notify(decode.GloveAccelUUID, accelFrame))
	s.gatt.DropLink()

	err := s.waitDone(done)
	s.ErrorIs(err, ErrConnectionLost)

	testutils.NewTextAsserter(s.T()).Assert(s.stdout.String(), `
flex 10 20 30 40 50
battery 87 3.92
accel 1 -1 0
`)
	s.Contains(s.stderr.String(), "Streaming flex, battery, accel.")
	s.Contains(s.stderr.String(), "Glove disconnected")
}

func (s *StreamCommandSuite) TestJSONOutputWithAngles() {
	done := s.streamAsync("--format", "json", "--angles")
	s.waitStreaming()

	// 847, 4095, 1809, 3611, 949
	s.Require().True(s.gatt.Notify(decode.GloveFlexUUID, []byte{0x4f, 0x03, 0xff, 0x0f, 0x11, 0x07, 0x1b, 0x0e, 0xb5, 0x03}))
	s.Require().True(s.gatt.Notify(decode.GloveBatteryUUID, batteryFrame))
	s.gatt.DropLink()
	s.ErrorIs(s.waitDone(done), ErrConnectionLost)

	lines := s.StdoutLines()
	s.Require().Len(lines, 2)
	testutils.NewJSONAsserter(s.T()).Assert("["+strings.Join(lines, ",")+"]", `[
		{"seq": 1, "channel": "flex", "values": [847, 4095, 1809, 3611, 949], "angles": [0, 90, 45, 90, 0], "timestamp": "<<PRESENCE>>"},
		{"seq": 2, "channel": "battery", "values": [87, 3.9200000762939453], "timestamp": "<<PRESENCE>>"}
	]`)
	s.NotContains(lines[1], "angles")
}

func (s *StreamCommandSuite) TestMalformedFrameDoesNotStopStream() {
	done := s.streamAsync()
	s.waitStreaming()

	s.Require().True(s.gatt.Notify(decode.GloveFlexUUID, []byte{1, 2, 3}))
	s.Require().True(s.gatt.Notify(decode.GloveFlexUUID, flexFrame))
	s.gatt.DropLink()
	s.ErrorIs(s.waitDone(done), ErrConnectionLost)

	s.Equal([]string{"flex 10 20 30 40 50"}, s.StdoutLines())
}

func (s *StreamCommandSuite) TestPartialGlove() {
	s.useGlove(testutils.CreateGlove().
		WithCharacteristic(decode.GloveFlexUUID).
		WithMissingCharacteristic(decode.GloveBatteryUUID).
		WithNotifyFailure(decode.GloveAccelUUID, device.ErrUnsupported))

	done := s.streamAsync()
	s.waitStreaming()
	s.gatt.DropLink()
	s.ErrorIs(s.waitDone(done), ErrConnectionLost)

	s.Contains(s.stderr.String(), "Streaming flex.")
}

func (s *StreamCommandSuite) TestDeviceNotFound() {
	s.useGlove(testutils.CreateGlove().WithDiscoveryError(device.ErrDeviceNotFound))

	err := s.ExecuteCommand("stream", "--timeout", "1s")
	s.ErrorIs(err, session.ErrDeviceNotFound)
	s.Contains(FormatUserError(err), "no glove found")
	s.Contains(s.stderr.String(), "Scanning for glove...")
}

func (s *StreamCommandSuite) TestNoChannels() {
	s.useGlove(testutils.CreateGlove())

	err := s.ExecuteCommand("stream")
	s.ErrorIs(err, session.ErrNoChannelsAvailable)
	s.Contains(s.stderr.String(), "Connected to ESP32-Glove")
}

func (s *StreamCommandSuite) TestInvalidFlags() {
	err := s.ExecuteCommand("stream", "--format", "xml")
	s.ErrorContains(err, `output_format must be "text" or "json", got "xml"`)

	resetFlags(streamCmd)
	err = s.ExecuteCommand("stream", "--transport", "serial")
	s.ErrorContains(err, `transport must be "native" or "web", got "serial"`)

	resetFlags(streamCmd)
	resetFlags(rootCmd)
	err = s.ExecuteCommand("stream", "--log-level", "loud")
	s.ErrorContains(err, "invalid log level: loud")
}

func TestStreamCommandSuite(t *testing.T) {
	suite.Run(t, new(StreamCommandSuite))
}

func TestShouldReconnect(t *testing.T) {
	peer := session.StateChange{
		Previous:      session.State{Kind: session.StateConnected},
		Next:          session.State{Kind: session.StateDisconnected},
		PeerInitiated: true,
	}
	if !shouldReconnect(peer) {
		t.Error("peer-initiated disconnect should reconnect")
	}

	local := peer
	local.PeerInitiated = false
	if shouldReconnect(local) {
		t.Error("caller disconnect must not reconnect")
	}

	failed := session.StateChange{Next: session.State{Kind: session.StateError, Reason: "connection failed"}}
	if shouldReconnect(failed) {
		t.Error("errors must not reconnect")
	}
}
