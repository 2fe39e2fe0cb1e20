// Package poll runs the 1Hz hardware poll tick: for every available
// peer, wait out the fixed hardware dwell time, send POLL, decode its
// sub-events through the peer's Behavior, and publish the result.
package poll

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/bus"
	"github.com/metalab-kassomat/kassomat-payout/pkg/device"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// HardwareDwell is the fixed settle time observed before every POLL
// exchange. Only the poll path waits it out; setup exchanges and
// router-driven command exchanges are sent without this dwell.
const HardwareDwell = 300 * time.Millisecond

// Interval is the poll tick period.
const Interval = 1 * time.Second

// Loop polls a fixed set of peers on a 1Hz tick and publishes their
// decoded events to a Bus.
type Loop struct {
	Peers []*device.Peer
	Bus   bus.Bus
	// Sleep is the dwell implementation; overridable in tests to avoid a
	// real 300ms wait per exchange.
	Sleep func(time.Duration)
}

// NewLoop constructs a Loop with the real dwell sleep.
func NewLoop(peers []*device.Peer, b bus.Bus) *Loop {
	return &Loop{Peers: peers, Bus: b, Sleep: time.Sleep}
}

// Run blocks, polling every peer once per tick, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range l.Peers {
				if !p.IsAvailable() {
					continue
				}
				l.pollOne(ctx, p)
			}
		}
	}
}

func (l *Loop) pollOne(ctx context.Context, p *device.Peer) {
	l.Sleep(HardwareDwell)

	resp, err := p.Session.Exec(ssp.CmdPoll, nil)
	if err != nil {
		log.Warnf("[POLL] %s: poll exchange failed: %v", p.Name, err)
		return
	}
	if !resp.Code.IsOK() {
		log.Warnf("[POLL] %s: poll returned %v", p.Name, resp.Code)
		return
	}
	p.LastPoll = time.Now()

	for _, raw := range device.DecodePollBody(resp.Body) {
		events, err := p.Behavior.MapEvent(p, raw)
		if err != nil {
			log.Warnf("[POLL] %s: mapping event 0x%02x: %v", p.Name, raw.Opcode, err)
			continue
		}
		for _, ev := range events {
			l.publish(ctx, p, ev)
		}
	}
}

func (l *Loop) publish(ctx context.Context, p *device.Peer, ev device.Event) {
	payload, err := json.Marshal(eventJSON(ev))
	if err != nil {
		log.Warnf("[POLL] %s: encoding event %q: %v", p.Name, ev.Name, err)
		return
	}
	if err := l.Bus.Publish(ctx, p.Behavior.EventTopic(), payload); err != nil {
		log.Warnf("[POLL] %s: publishing event %q: %v", p.Name, ev.Name, err)
	}
}

func eventJSON(ev device.Event) map[string]interface{} {
	out := make(map[string]interface{}, len(ev.Fields)+1)
	for k, v := range ev.Fields {
		out[k] = v
	}
	out["event"] = ev.Name
	return out
}
