package device

import (
	"encoding/binary"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// RawEvent is one undecoded sub-event as it appears inside a POLL response
// body: an opcode byte followed by a class-specific data payload. Which
// fields are populated depends on the opcode's class; see DecodePollBody.
type RawEvent struct {
	Opcode byte

	// Channel is set for the with-channel class (READ, CREDIT).
	Channel byte

	// Amount/CC are set for the amount+cc class (COIN_CREDIT, FLOATING,
	// FLOATED, DISPENSING, DISPENSED, CASHBOX_PAID, TIMEOUT,
	// SMART_EMPTYING, SMART_EMPTIED).
	Amount uint32
	CC     string

	// Dispensed/Requested/CC are set for the incomplete-payout/float class.
	Dispensed uint32
	Requested uint32

	// Reason is set for CALIBRATION_FAIL.
	Reason byte
}

// Event is a decoded domain event ready to publish on a peer's event
// topic, shaped as the JSON object the bus payload becomes.
type Event struct {
	Name   string
	Fields map[string]interface{}
}

func newEvent(name string, fields map[string]interface{}) Event {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return Event{Name: name, Fields: fields}
}

// DecodePollBody splits a raw POLL response body into its constituent
// sub-events. Each opcode's data width is fixed by its class; consuming
// the wrong width desynchronizes decoding of every event after it in the
// batch, so each class below is sized exactly as the wire defines it:
// with-channel opcodes carry 1 byte, amount+cc opcodes carry 4-byte
// little-endian amount + 3-byte ASCII currency code (7 bytes),
// incomplete-payout/float opcodes carry two 4-byte amounts plus the
// 3-byte currency code (11 bytes), and calibration-fail carries 1
// reason byte.
func DecodePollBody(body []byte) []RawEvent {
	var events []RawEvent
	for i := 0; i < len(body); {
		opcode := body[i]
		i++
		raw := RawEvent{Opcode: opcode}
		switch opcode {
		case ssp.EventRead, ssp.EventCredit:
			if i < len(body) {
				raw.Channel = body[i]
				i++
			}
		case ssp.EventCoinCredit, ssp.EventFloating, ssp.EventFloated,
			ssp.EventDispensing, ssp.EventDispensed, ssp.EventCashboxPaid,
			ssp.EventTimeout, ssp.EventSmartEmptying, ssp.EventSmartEmptied:
			if i+7 <= len(body) {
				raw.Amount = binary.LittleEndian.Uint32(body[i : i+4])
				raw.CC = string(body[i+4 : i+7])
				i += 7
			}
		case ssp.EventIncompletePayout, ssp.EventIncompleteFloat:
			if i+11 <= len(body) {
				raw.Dispensed = binary.LittleEndian.Uint32(body[i : i+4])
				raw.Requested = binary.LittleEndian.Uint32(body[i+4 : i+8])
				raw.CC = string(body[i+8 : i+11])
				i += 11
			}
		case ssp.EventCalibrationFail:
			if i < len(body) {
				raw.Reason = body[i]
				i++
			}
		}
		events = append(events, raw)
	}
	return events
}
