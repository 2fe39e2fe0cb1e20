package device

import (
	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// HopperBehavior implements Behavior for the coin hopper: on setup it
// writes the desired inhibit state to every channel; it maps POLL
// sub-events into coin-side domain events.
type HopperBehavior struct {
	// AcceptCoins gates whether channel inhibits are set to enabled or
	// disabled during Enable. false means every coin channel stays
	// inhibited, matching a deployment that only ever dispenses.
	AcceptCoins bool
}

func (h *HopperBehavior) EventTopic() string    { return "hopper-event" }
func (h *HopperBehavior) RequestTopic() string  { return "hopper-request" }
func (h *HopperBehavior) ResponseTopic() string { return "hopper-response" }

// Enable writes SET_COINMECH_INHIBITS for every channel in the setup
// table, enabled or disabled according to AcceptCoins.
func (h *HopperBehavior) Enable(p *Peer) error {
	state := byte(ssp.ChannelDisabled)
	if h.AcceptCoins {
		state = ssp.ChannelEnabled
		log.Infof("[%s] coins will be accepted", p.Name)
	} else {
		log.Infof("[%s] coins will not be accepted", p.Name)
	}

	for i, ch := range p.Setup.Channels {
		body := make([]byte, 0, 6)
		var valueBuf [4]byte
		valueBuf[0] = byte(ch.Value)
		valueBuf[1] = byte(ch.Value >> 8)
		valueBuf[2] = byte(ch.Value >> 16)
		valueBuf[3] = byte(ch.Value >> 24)
		body = append(body, valueBuf[:]...)
		body = append(body, []byte(ch.Currency)...)
		body = append(body, state)

		resp, err := p.Session.Exec(ssp.CmdSetCoinMechInhibits, body)
		if err != nil {
			return err
		}
		if !resp.Code.IsOK() {
			return resp.Code
		}
		log.Debugf("[%s] channel %d inhibit set to %d", p.Name, i+1, state)
	}
	return nil
}

// MapEvent translates one raw hopper POLL sub-event into the JSON-shaped
// domain events payoutd.c's hopperEventHandler publishes.
func (h *HopperBehavior) MapEvent(p *Peer, raw RawEvent) ([]Event, error) {
	switch raw.Opcode {
	case ssp.EventReset:
		if err := pinHostProtocolVersion(p); err != nil {
			log.Fatalf("[%s] re-pinning host protocol version after reset failed: %v", p.Name, err)
		}
		return []Event{newEvent("unit reset", nil)}, nil
	case ssp.EventRead:
		if raw.Channel > 0 {
			return []Event{newEvent("read", map[string]interface{}{"channel": raw.Channel})}, nil
		}
		return []Event{newEvent("reading", nil)}, nil
	case ssp.EventTimeout:
		return []Event{newEvent("timeout", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventDispensing:
		return []Event{newEvent("dispensing", map[string]interface{}{"amount": raw.Amount})}, nil
	case ssp.EventDispensed:
		return []Event{newEvent("dispensed", map[string]interface{}{"amount": raw.Amount})}, nil
	case ssp.EventFloating:
		return []Event{newEvent("floating", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventFloated:
		return []Event{newEvent("floated", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventCashboxPaid:
		return []Event{newEvent("cashbox paid", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventJammed:
		return []Event{newEvent("jammed", nil)}, nil
	case ssp.EventFraudAttempt:
		return []Event{newEvent("fraud attempt", nil)}, nil
	case ssp.EventCoinCredit:
		return []Event{newEvent("coin credit", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventEmpty:
		return []Event{newEvent("empty", nil)}, nil
	case ssp.EventEmptying:
		return []Event{newEvent("emptying", nil)}, nil
	case ssp.EventSmartEmptying:
		return []Event{newEvent("smart emptying", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventSmartEmptied:
		return []Event{newEvent("smart emptied", map[string]interface{}{"amount": raw.Amount, "cc": raw.CC})}, nil
	case ssp.EventCredit:
		return []Event{newEvent("credit", map[string]interface{}{"channel": raw.Channel, "cc": ssp.Currency})}, nil
	case ssp.EventIncompletePayout:
		return []Event{newEvent("incomplete payout", map[string]interface{}{
			"dispensed": raw.Dispensed, "requested": raw.Requested, "cc": raw.CC,
		})}, nil
	case ssp.EventIncompleteFloat:
		return []Event{newEvent("incomplete float", map[string]interface{}{
			"dispensed": raw.Dispensed, "requested": raw.Requested, "cc": raw.CC,
		})}, nil
	case ssp.EventDisabled:
		return []Event{newEvent("disabled", nil)}, nil
	case ssp.EventCalibrationFail:
		return []Event{calibrationFailEvent(p, raw.Reason)}, nil
	default:
		return []Event{newEvent("unknown", map[string]interface{}{"id": raw.Opcode})}, nil
	}
}

// calibrationFailEvent renders a CALIBRATION_FAIL sub-event, issuing a
// recalibration command back to the peer when the reason is
// CalibCommandRecal (the only reason that asks the host to act).
func calibrationFailEvent(p *Peer, reason byte) Event {
	switch reason {
	case ssp.CalibNoFailure:
		return newEvent("calibration fail", map[string]interface{}{"error": "no error"})
	case ssp.CalibSensorFlap:
		return newEvent("calibration fail", map[string]interface{}{"error": "sensor flap"})
	case ssp.CalibSensorExit:
		return newEvent("calibration fail", map[string]interface{}{"error": "sensor exit"})
	case ssp.CalibSensorCoil1:
		return newEvent("calibration fail", map[string]interface{}{"error": "sensor coil 1"})
	case ssp.CalibSensorCoil2:
		return newEvent("calibration fail", map[string]interface{}{"error": "sensor coil 2"})
	case ssp.CalibNotInitialised:
		return newEvent("calibration fail", map[string]interface{}{"error": "not initialized"})
	case ssp.CalibChecksumError:
		return newEvent("calibration fail", map[string]interface{}{"error": "checksum error"})
	case ssp.CalibCommandRecal:
		if _, err := p.Session.Exec(ssp.CmdRunCalibration, nil); err != nil {
			log.Warnf("[%s] recalibration command failed: %v", p.Name, err)
		}
		return newEvent("recalibrating", nil)
	default:
		return newEvent("calibration fail", map[string]interface{}{"error": "unknown"})
	}
}
