package device

import (
	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// routeEntry pins one banknote denomination to a routing destination,
// matching the fixed euro routing table payoutd.c wires during setup:
// small notes go to the cashbox, large notes go to storage for payout.
type routeEntry struct {
	amountMinor uint32
	destination byte
}

var defaultRoutes = []routeEntry{
	{500, ssp.RouteCashbox},   // 5 EUR
	{1000, ssp.RouteCashbox},  // 10 EUR
	{2000, ssp.RouteCashbox},  // 20 EUR
	{5000, ssp.RouteStorage},  // 50 EUR
	{10000, ssp.RouteStorage}, // 100 EUR
	{20000, ssp.RouteStorage}, // 200 EUR
	{50000, ssp.RouteStorage}, // 500 EUR
}

// ValidatorBehavior implements Behavior for the banknote validator: on
// setup it sets refill mode, pins the routing table, disables every
// channel, then enables payout.
type ValidatorBehavior struct{}

func (v *ValidatorBehavior) EventTopic() string    { return "validator-event" }
func (v *ValidatorBehavior) RequestTopic() string  { return "validator-request" }
func (v *ValidatorBehavior) ResponseTopic() string { return "validator-response" }

// Enable runs the validator's setup sequence: refill mode, per-denomination
// routing, all channels inhibited, then payout enabled.
func (v *ValidatorBehavior) Enable(p *Peer) error {
	if resp, err := p.Session.Exec(ssp.CmdSetRefillMode, ssp.RefillModeMagic[:]); err != nil {
		return err
	} else if !resp.Code.IsOK() {
		log.Warnf("[%s] setting refill mode failed: %v", p.Name, resp.Code)
	}

	for _, route := range defaultRoutes {
		body := encodeRouteBody(route.amountMinor, ssp.Currency, route.destination)
		resp, err := p.Session.Exec(ssp.CmdSetRoute, body)
		if err != nil {
			return err
		}
		if !resp.Code.IsOK() {
			return resp.Code
		}
	}

	p.SetChannelInhibits(0x0)
	inhibitBody := []byte{0x00, 0x00}
	resp, err := p.Session.Exec(ssp.CmdSetChannelInhibits, inhibitBody)
	if err != nil {
		return err
	}
	if !resp.Code.IsOK() {
		return resp.Code
	}

	resp, err = p.Session.Exec(ssp.CmdEnablePayout, []byte{p.Setup.UnitType})
	if err != nil {
		return err
	}
	if !resp.Code.IsOK() {
		return resp.Code
	}
	return nil
}

func encodeRouteBody(amountMinor uint32, cc string, destination byte) []byte {
	body := make([]byte, 0, 4+3+1)
	body = append(body,
		byte(amountMinor), byte(amountMinor>>8), byte(amountMinor>>16), byte(amountMinor>>24))
	body = append(body, []byte(cc)...)
	body = append(body, destination)
	return body
}

// MapEvent translates one raw validator POLL sub-event into the JSON-shaped
// domain events payoutd.c's validatorEventHandler publishes. Channel-value
// events (read/credit) are converted from the channel table's major units
// to minor currency units at this point of use.
func (v *ValidatorBehavior) MapEvent(p *Peer, raw RawEvent) ([]Event, error) {
	switch raw.Opcode {
	case ssp.EventReset:
		if err := pinHostProtocolVersion(p); err != nil {
			log.Fatalf("[%s] re-pinning host protocol version after reset failed: %v", p.Name, err)
		}
		return []Event{newEvent("unit reset", nil)}, nil
	case ssp.EventRead:
		if raw.Channel > 0 {
			amount, _ := p.ChannelValue(int(raw.Channel))
			return []Event{newEvent("read", map[string]interface{}{
				"amount": amount * 100, "channel": raw.Channel,
			})}, nil
		}
		return []Event{newEvent("reading", nil)}, nil
	case ssp.EventEmpty:
		return []Event{newEvent("empty", nil)}, nil
	case ssp.EventEmptying:
		return []Event{newEvent("emptying", nil)}, nil
	case ssp.EventSmartEmptying:
		// the wire still carries amount+cc here (consumed by DecodePollBody
		// to keep the batch aligned) but the validator's own event omits them.
		return []Event{newEvent("smart emptying", nil)}, nil
	case ssp.EventTimeout:
		return []Event{newEvent("timeout", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventCredit:
		amount, _ := p.ChannelValue(int(raw.Channel))
		return []Event{newEvent("credit", map[string]interface{}{
			"amount": amount * 100, "channel": raw.Channel,
		})}, nil
	case ssp.EventIncompletePayout:
		return []Event{newEvent("incomplete payout", map[string]interface{}{
			"dispensed": raw.Dispensed, "requested": raw.Requested, "cc": raw.CC,
		})}, nil
	case ssp.EventIncompleteFloat:
		return []Event{newEvent("incomplete float", map[string]interface{}{
			"dispensed": raw.Dispensed, "requested": raw.Requested, "cc": raw.CC,
		})}, nil
	case ssp.EventRejecting:
		return []Event{newEvent("rejecting", nil)}, nil
	case ssp.EventRejected:
		return []Event{newEvent("rejected", nil)}, nil
	case ssp.EventStacking:
		return []Event{newEvent("stacking", nil)}, nil
	case ssp.EventStored:
		return []Event{newEvent("stored", nil)}, nil
	case ssp.EventStacked:
		return []Event{newEvent("stacked", nil)}, nil
	case ssp.EventSafeJam:
		return []Event{newEvent("safe jam", nil)}, nil
	case ssp.EventUnsafeJam:
		return []Event{newEvent("unsafe jam", nil)}, nil
	case ssp.EventDisabled:
		return []Event{newEvent("disabled", nil)}, nil
	case ssp.EventFraudAttempt:
		return []Event{newEvent("fraud attempt", nil)}, nil
	case ssp.EventStackerFull:
		return []Event{newEvent("stacker full", nil)}, nil
	case ssp.EventCashBoxRemoved:
		return []Event{newEvent("cashbox removed", nil)}, nil
	case ssp.EventCashBoxReplaced:
		return []Event{newEvent("cashbox replaced", nil)}, nil
	case ssp.EventClearedFromFront:
		return []Event{newEvent("cleared from front", nil)}, nil
	case ssp.EventClearedIntoCashbox:
		return []Event{newEvent("cleared into cashbox", nil)}, nil
	case ssp.EventCalibrationFail:
		return []Event{calibrationFailEvent(p, raw.Reason)}, nil
	default:
		return []Event{newEvent("unknown", map[string]interface{}{"id": raw.Opcode})}, nil
	}
}
