package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

func TestValidatorMapEventReadConvertsToMinorUnits(t *testing.T) {
	v := &ValidatorBehavior{}
	p := &Peer{Name: "validator", Setup: Setup{Channels: []Channel{
		{Value: 5, Currency: "EUR"},
		{Value: 10, Currency: "EUR"},
	}}}

	events, err := v.MapEvent(p, RawEvent{Opcode: ssp.EventRead, Channel: 2})
	require.NoError(t, err)
	assert.Equal(t, "read", events[0].Name)
	assert.Equal(t, uint32(1000), events[0].Fields["amount"])
	assert.Equal(t, byte(2), events[0].Fields["channel"])
}

func TestValidatorMapEventCreditConvertsToMinorUnits(t *testing.T) {
	v := &ValidatorBehavior{}
	p := &Peer{Name: "validator", Setup: Setup{Channels: []Channel{
		{Value: 5, Currency: "EUR"},
		{Value: 10, Currency: "EUR"},
	}}}

	events, err := v.MapEvent(p, RawEvent{Opcode: ssp.EventCredit, Channel: 2})
	require.NoError(t, err)
	assert.Equal(t, "credit", events[0].Name)
	assert.Equal(t, uint32(1000), events[0].Fields["amount"])
}

func TestValidatorMapEventIncompleteFloat(t *testing.T) {
	v := &ValidatorBehavior{}
	p := &Peer{Name: "validator"}

	events, err := v.MapEvent(p, RawEvent{
		Opcode: ssp.EventIncompleteFloat, Dispensed: 200, Requested: 1000, CC: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(200), events[0].Fields["dispensed"])
	assert.Equal(t, uint32(1000), events[0].Fields["requested"])
	assert.Equal(t, "EUR", events[0].Fields["cc"])
}

func TestValidatorMapEventSmartEmptyingOmitsAmount(t *testing.T) {
	v := &ValidatorBehavior{}
	p := &Peer{Name: "validator"}

	events, err := v.MapEvent(p, RawEvent{Opcode: ssp.EventSmartEmptying, Amount: 500, CC: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "smart emptying", events[0].Name)
	assert.Empty(t, events[0].Fields)
}

func TestValidatorMapEventResetRepinsProtocolVersion(t *testing.T) {
	link := &scriptedLink{responses: [][]byte{
		okFrame(t, ssp.ValidatorAddress, 0, nil),
	}}
	p := NewPeer("validator", ssp.ValidatorAddress, link, &ValidatorBehavior{})

	events, err := (&ValidatorBehavior{}).MapEvent(p, RawEvent{Opcode: ssp.EventReset})
	require.NoError(t, err)
	assert.Equal(t, "unit reset", events[0].Name)
}

func TestValidatorEnableWritesDefaultRoutesAndEnablesPayout(t *testing.T) {
	link := &scriptedLink{responses: [][]byte{
		okFrame(t, ssp.ValidatorAddress, 0, nil), // refill mode
		okFrame(t, ssp.ValidatorAddress, 1, nil), // route 1
		okFrame(t, ssp.ValidatorAddress, 0, nil), // route 2
		okFrame(t, ssp.ValidatorAddress, 1, nil), // route 3
		okFrame(t, ssp.ValidatorAddress, 0, nil), // route 4
		okFrame(t, ssp.ValidatorAddress, 1, nil), // route 5
		okFrame(t, ssp.ValidatorAddress, 0, nil), // route 6
		okFrame(t, ssp.ValidatorAddress, 1, nil), // route 7
		okFrame(t, ssp.ValidatorAddress, 0, nil), // set channel inhibits
		okFrame(t, ssp.ValidatorAddress, 1, nil), // enable payout
	}}
	p := NewPeer("validator", ssp.ValidatorAddress, link, &ValidatorBehavior{})

	err := (&ValidatorBehavior{}).Enable(p)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), p.ChannelInhibits)
}
