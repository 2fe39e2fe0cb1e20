package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalab-kassomat/kassomat-payout/internal/serialport"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// scriptedLink replays one canned response per Read call, used to exercise
// Session.Exec without a real serial device.
type scriptedLink struct {
	responses [][]byte
	pos       int
}

func (s *scriptedLink) Write(b []byte) error { return nil }

func (s *scriptedLink) Read(n int, deadline time.Time) ([]byte, error) {
	if s.pos >= len(s.responses) {
		return nil, serialport.ErrTimeout
	}
	buf := s.responses[s.pos]
	take := n
	if take > len(buf) {
		take = len(buf)
	}
	out := buf[:take]
	s.responses[s.pos] = buf[take:]
	if len(s.responses[s.pos]) == 0 {
		s.pos++
	}
	return out, nil
}

func (s *scriptedLink) Close() error { return nil }

func okFrame(t *testing.T, addr uint8, seq uint8, body []byte) []byte {
	t.Helper()
	payload := append([]byte{byte(ssp.ResponseOK)}, body...)
	frame, err := ssp.Encode(addr, seq, payload)
	require.NoError(t, err)
	return frame
}

func TestHopperMapEventReadWithAndWithoutChannel(t *testing.T) {
	h := &HopperBehavior{}
	p := &Peer{Name: "hopper"}

	events, err := h.MapEvent(p, RawEvent{Opcode: ssp.EventRead, Channel: 0})
	require.NoError(t, err)
	assert.Equal(t, "reading", events[0].Name)

	events, err = h.MapEvent(p, RawEvent{Opcode: ssp.EventRead, Channel: 3})
	require.NoError(t, err)
	assert.Equal(t, "read", events[0].Name)
	assert.Equal(t, byte(3), events[0].Fields["channel"])
}

func TestHopperMapEventAmountCCClass(t *testing.T) {
	h := &HopperBehavior{}
	p := &Peer{Name: "hopper"}

	events, err := h.MapEvent(p, RawEvent{Opcode: ssp.EventCoinCredit, Amount: 150, CC: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "coin credit", events[0].Name)
	assert.Equal(t, uint32(150), events[0].Fields["amount"])
	assert.Equal(t, "EUR", events[0].Fields["cc"])
}

func TestHopperMapEventDispensingOmitsCC(t *testing.T) {
	h := &HopperBehavior{}
	p := &Peer{Name: "hopper"}

	events, err := h.MapEvent(p, RawEvent{Opcode: ssp.EventDispensing, Amount: 500, CC: "EUR"})
	require.NoError(t, err)
	_, hasCC := events[0].Fields["cc"]
	assert.False(t, hasCC)
	assert.Equal(t, uint32(500), events[0].Fields["amount"])
}

func TestHopperMapEventIncompletePayout(t *testing.T) {
	h := &HopperBehavior{}
	p := &Peer{Name: "hopper"}

	events, err := h.MapEvent(p, RawEvent{
		Opcode: ssp.EventIncompletePayout, Dispensed: 100, Requested: 500, CC: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(100), events[0].Fields["dispensed"])
	assert.Equal(t, uint32(500), events[0].Fields["requested"])
	assert.Equal(t, "EUR", events[0].Fields["cc"])
}

func TestHopperMapEventResetRepinsProtocolVersion(t *testing.T) {
	link := &scriptedLink{responses: [][]byte{
		okFrame(t, ssp.HopperAddress, 0, nil),
	}}
	p := NewPeer("hopper", ssp.HopperAddress, link, &HopperBehavior{})

	events, err := (&HopperBehavior{}).MapEvent(p, RawEvent{Opcode: ssp.EventReset})
	require.NoError(t, err)
	assert.Equal(t, "unit reset", events[0].Name)
}

func TestHopperMapEventCalibrationFailRecalibrates(t *testing.T) {
	link := &scriptedLink{responses: [][]byte{
		okFrame(t, ssp.HopperAddress, 0, nil),
	}}
	p := NewPeer("hopper", ssp.HopperAddress, link, &HopperBehavior{})

	events, err := (&HopperBehavior{}).MapEvent(p, RawEvent{Opcode: ssp.EventCalibrationFail, Reason: ssp.CalibCommandRecal})
	require.NoError(t, err)
	assert.Equal(t, "recalibrating", events[0].Name)
}
