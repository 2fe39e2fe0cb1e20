// Package device models a single SSP peer (hopper or validator): its
// session state, channel table, lifecycle, and the events it reports
// during POLL.
package device

import (
	"sync"
	"time"

	"github.com/metalab-kassomat/kassomat-payout/internal/serialport"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// Channel is one denomination slot in a peer's channel table, 1-indexed on
// the wire.
type Channel struct {
	Value    uint32
	Currency string
}

// Setup is the snapshot populated by SETUP_REQUEST during the peer
// lifecycle, read-only once populated for the life of the session.
type Setup struct {
	Firmware string
	Dataset  string
	UnitType byte
	Channels []Channel
}

// Behavior captures what differs between the hopper and the validator:
// how it gets enabled during setup, and how it maps a raw POLL event into
// zero or more domain Events.
type Behavior interface {
	// Enable drives the peer-specific enablement sequence (coin inhibits,
	// or payout enable + routing + refill mode).
	Enable(p *Peer) error
	// MapEvent decodes one raw poll sub-event into zero or more domain
	// events, consulting the peer's channel table where needed.
	MapEvent(p *Peer, raw RawEvent) ([]Event, error)
	// EventTopic names the bus topic domain events for this peer publish
	// to (e.g. "hopper-event", "validator-event").
	EventTopic() string
	// RequestTopic/ResponseTopic name the command dispatch topics.
	RequestTopic() string
	ResponseTopic() string
}

// Peer is a physical SSP device: its address, session, cached setup data,
// and the mutable state the daemon's single reactor owns exclusively.
type Peer struct {
	Name    string
	Address uint8
	Key     uint64

	Session  *ssp.Session
	keyState *keyAgreement

	mu              sync.Mutex
	Available       bool
	ChannelInhibits uint16
	Setup           Setup
	LastPoll        time.Time

	Behavior Behavior
}

// NewPeer constructs a Peer bound to one address on a shared serial link,
// with its own Session and key-agreement state. The preshared key defaults
// to ssp.DefaultKey; every currently supported peer uses the default, so
// overriding Peer.Key is left for a future provisioning extension.
func NewPeer(name string, address uint8, link serialport.Link, behavior Behavior) *Peer {
	p := &Peer{
		Name:     name,
		Address:  address,
		Key:      ssp.DefaultKey,
		Behavior: behavior,
	}
	session := ssp.NewSession(link, address, nil)
	p.keyState = newKeyAgreement(session, p.Key)
	session.SetKeyAgreement(p.keyState)
	p.Session = session
	return p
}

// SetAvailable sets the availability flag under the peer's lock; the flag
// is read by the router to reject commands against unavailable hardware.
func (p *Peer) SetAvailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Available = v
}

// IsAvailable reports the peer's availability flag.
func (p *Peer) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Available
}

// SetChannelInhibits persists the channel inhibit mask: always equal to
// the last value successfully written to the peer.
func (p *Peer) SetChannelInhibits(mask uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChannelInhibits = mask
}

// ChannelValue returns the denomination value for a 1-indexed channel, in
// the major currency units the peer itself reports them in. Conversion to
// minor units (cents) is the caller's job, done at the point of use rather
// than pre-converted here, so callers that only need to log or compare
// raw channel values never pay for a conversion they don't need.
func (p *Peer) ChannelValue(channel int) (uint32, bool) {
	idx := channel - 1
	if idx < 0 || idx >= len(p.Setup.Channels) {
		return 0, false
	}
	return p.Setup.Channels[idx].Value, true
}
