package poll

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalab-kassomat/kassomat-payout/internal/serialport"
	"github.com/metalab-kassomat/kassomat-payout/pkg/bus"
	"github.com/metalab-kassomat/kassomat-payout/pkg/device"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

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

func pollFrame(seq uint8, events []device.RawEvent) []byte {
	body := make([]byte, 0)
	for _, ev := range events {
		body = append(body, ev.Opcode)
		switch ev.Opcode {
		case ssp.EventRead, ssp.EventCredit:
			body = append(body, ev.Channel)
		case ssp.EventCoinCredit, ssp.EventFloating, ssp.EventFloated,
			ssp.EventDispensing, ssp.EventDispensed, ssp.EventCashboxPaid,
			ssp.EventTimeout, ssp.EventSmartEmptying, ssp.EventSmartEmptied:
			var amountBuf [4]byte
			binary.LittleEndian.PutUint32(amountBuf[:], ev.Amount)
			body = append(body, amountBuf[:]...)
			body = append(body, []byte(ev.CC)...)
		case ssp.EventIncompletePayout, ssp.EventIncompleteFloat:
			var dispensedBuf, requestedBuf [4]byte
			binary.LittleEndian.PutUint32(dispensedBuf[:], ev.Dispensed)
			binary.LittleEndian.PutUint32(requestedBuf[:], ev.Requested)
			body = append(body, dispensedBuf[:]...)
			body = append(body, requestedBuf[:]...)
			body = append(body, []byte(ev.CC)...)
		case ssp.EventCalibrationFail:
			body = append(body, ev.Reason)
		}
	}
	payload := append([]byte{byte(ssp.ResponseOK)}, body...)
	frame, err := ssp.Encode(ssp.HopperAddress, seq, payload)
	if err != nil {
		panic(err)
	}
	return frame
}

func TestLoopPollOnePublishesMappedEvents(t *testing.T) {
	link := &scriptedLink{responses: [][]byte{
		pollFrame(0, []device.RawEvent{{Opcode: ssp.EventEmpty}}),
	}}
	peer := device.NewPeer("hopper", ssp.HopperAddress, link, &device.HopperBehavior{})
	peer.SetAvailable(true)

	memBus := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := memBus.Subscribe(ctx, "hopper-event")
	require.NoError(t, err)

	loop := NewLoop([]*device.Peer{peer}, memBus)
	loop.Sleep = func(time.Duration) {}

	loop.pollOne(ctx, peer)

	select {
	case msg := <-msgs:
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, "empty", decoded["event"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestLoopRunReturnsOnCancelWithUnavailablePeer(t *testing.T) {
	link := &scriptedLink{}
	peer := device.NewPeer("validator", ssp.ValidatorAddress, link, &device.ValidatorBehavior{})
	peer.SetAvailable(false)

	memBus := bus.NewMemoryBus()
	loop := NewLoop([]*device.Peer{peer}, memBus)
	loop.Sleep = func(time.Duration) {}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	loop.Run(ctx)
	assert.False(t, peer.IsAvailable())
}
