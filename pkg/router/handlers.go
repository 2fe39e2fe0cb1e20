package router

import (
	"encoding/json"

	"github.com/metalab-kassomat/kassomat-payout/pkg/device"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

func handleTest(p *device.Peer, req Request) Response {
	return reply(req.MsgID, map[string]interface{}{"code": ssp.ResponseOK.Error()})
}

func handleEmpty(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdEmpty, nil)
	return sspReply(req, resp, err)
}

func handleSmartEmpty(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdSmartEmpty, nil)
	return sspReply(req, resp, err)
}

func handleEnable(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdEnable, nil)
	return sspReply(req, resp, err)
}

func handleDisable(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdDisable, nil)
	return sspReply(req, resp, err)
}

// channelsField extracts the "channels" string property, e.g. "1,3,5",
// matching strstr-against-each-digit checks the original performs.
func channelsField(req Request) (string, bool) {
	var body struct {
		Channels *string `json:"channels"`
	}
	if err := json.Unmarshal(req.Raw, &body); err != nil || body.Channels == nil {
		return "", false
	}
	return *body.Channels, true
}

func containsDigit(channels string, digit byte) bool {
	for i := 0; i < len(channels); i++ {
		if channels[i] == digit {
			return true
		}
	}
	return false
}

func handleEnableChannels(p *device.Peer, req Request) Response {
	return setChannelBits(p, req, true)
}

func handleDisableChannels(p *device.Peer, req Request) Response {
	return setChannelBits(p, req, false)
}

// handleInhibitChannels is stateless: unlike enable/disable-channels it
// never reads or persists p.ChannelInhibits, always starting from every
// channel enabled (0xFF) and clearing only the named ones.
func handleInhibitChannels(p *device.Peer, req Request) Response {
	channels, ok := channelsField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "channels")
	}

	mask := uint8(0xFF)
	for digit := byte('1'); digit <= '8'; digit++ {
		if containsDigit(channels, digit) {
			mask &^= 1 << (digit - '1')
		}
	}

	body := []byte{mask, 0xFF}
	resp, err := p.Session.Exec(ssp.CmdSetChannelInhibits, body)
	return sspReply(req, resp, err)
}

// setChannelBits updates the 8 low channel bits of the peer's persisted
// inhibit mask and writes it back with SET_CHANNEL_INHIBITS, persisting the
// new mask on the peer only if the write succeeds. The high byte is always
// the fixed 0xFF the hardware expects; only 8 channels are currently wired.
func setChannelBits(p *device.Peer, req Request, enable bool) Response {
	channels, ok := channelsField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "channels")
	}

	mask := p.ChannelInhibits
	for digit := byte('1'); digit <= '8'; digit++ {
		if !containsDigit(channels, digit) {
			continue
		}
		bit := uint16(1) << (digit - '1')
		if enable {
			mask |= bit
		} else {
			mask &^= bit
		}
	}

	body := []byte{byte(mask), 0xFF}
	resp, err := p.Session.Exec(ssp.CmdSetChannelInhibits, body)
	if err == nil && resp.Code.IsOK() {
		p.SetChannelInhibits(mask)
	}
	return sspReply(req, resp, err)
}

func amountField(req Request) (int64, bool) {
	var body struct {
		Amount *int64 `json:"amount"`
	}
	if err := json.Unmarshal(req.Raw, &body); err != nil || body.Amount == nil {
		return 0, false
	}
	return *body.Amount, true
}

func levelField(req Request) (int64, bool) {
	var body struct {
		Level *int64 `json:"level"`
	}
	if err := json.Unmarshal(req.Raw, &body); err != nil || body.Level == nil {
		return 0, false
	}
	return *body.Level, true
}

func encodeAmountCurrencyOption(amount int64, option byte) []byte {
	body := make([]byte, 0, 8)
	body = append(body, byte(amount), byte(amount>>8), byte(amount>>16), byte(amount>>24))
	body = append(body, []byte(ssp.Currency)...)
	body = append(body, option)
	return body
}

// payoutLikeReply translates COMMAND_NOT_PROCESSED into its specific
// reason string, matching handlePayout/handleFloat's special-cased
// error path; every other outcome falls back to the generic SSP reply.
func payoutLikeReply(req Request, resp ssp.Response, err error) Response {
	if err == nil && resp.Code == ssp.ResponseCommandNotProcessed {
		var reason ssp.CommandNotProcessedReason
		if len(resp.Body) > 0 {
			reason = ssp.CommandNotProcessedReason(resp.Body[0])
		}
		return errorReply(req.MsgID, reason.String())
	}
	return sspReply(req, resp, err)
}

func handlePayout(p *device.Peer, req Request) Response {
	amount, ok := amountField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "amount")
	}
	option := ssp.OptionByteTest
	if req.Cmd == "do-payout" {
		option = ssp.OptionByteDo
	}
	resp, err := p.Session.Exec(ssp.CmdPayoutAmount, encodeAmountCurrencyOption(amount, option))
	return payoutLikeReply(req, resp, err)
}

func handleFloat(p *device.Peer, req Request) Response {
	amount, ok := amountField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "amount")
	}
	option := ssp.OptionByteTest
	if req.Cmd == "do-float" {
		option = ssp.OptionByteDo
	}
	resp, err := p.Session.Exec(ssp.CmdFloatAmount, encodeAmountCurrencyOption(amount, option))
	return payoutLikeReply(req, resp, err)
}

// handleSetDenominationLevel behaves like the not-quite-"set" primitive
// the hardware exposes: it behaves as "increment" unless level is 0.
// When a non-zero level is requested, the level is first zeroed (making
// the subsequent increment land exactly on the requested absolute level)
// before the real write, matching the two-call dance in
// handleSetDenominationLevels.
func handleSetDenominationLevel(p *device.Peer, req Request) Response {
	level, ok := levelField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "level")
	}
	amount, ok := amountField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "amount")
	}

	if level > 0 {
		if _, err := p.Session.Exec(ssp.CmdSetDenominationLevel, encodeDenominationLevel(amount, 0)); err != nil {
			return errorReply(req.MsgID, err.Error())
		}
	}
	resp, err := p.Session.Exec(ssp.CmdSetDenominationLevel, encodeDenominationLevel(amount, level))
	return sspReply(req, resp, err)
}

func encodeDenominationLevel(amount, level int64) []byte {
	body := make([]byte, 0, 7)
	body = append(body, byte(level), byte(level>>8))
	body = append(body, byte(amount), byte(amount>>8))
	body = append(body, []byte(ssp.Currency)...)
	return body
}

func handleSetCashboxPayoutLimit(p *device.Peer, req Request) Response {
	level, ok := levelField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "level")
	}
	amount, ok := amountField(req)
	if !ok {
		return propertyErrorReply(req.MsgID, "amount")
	}
	resp, err := p.Session.Exec(ssp.CmdSetCashboxPayoutLimit, encodeDenominationLevel(amount, level))
	return sspReply(req, resp, err)
}

func handleGetAllLevels(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdGetAllLevels, nil)
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	if !resp.Code.IsOK() {
		return sspReply(req, resp, nil)
	}
	levels, _ := decodeLevels(resp.Body)
	return reply(req.MsgID, map[string]interface{}{"levels": levels})
}

// handleCashboxPayoutOperationData decodes the same counter records as
// get-all-levels, then appends one trailing {"value":0,"level":qtyUnknown}
// entry parsed from the 3 bytes following the counters: the quantity of
// coins counted but not identified to a denomination.
func handleCashboxPayoutOperationData(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdCashboxPayoutOperationData, nil)
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	if !resp.Code.IsOK() {
		return sspReply(req, resp, nil)
	}
	levels, offset := decodeLevels(resp.Body)
	if offset+3 <= len(resp.Body) {
		qtyUnknown := uint32(resp.Body[offset]) | uint32(resp.Body[offset+1])<<8 | uint32(resp.Body[offset+2])<<16
		levels = append(levels, map[string]interface{}{"value": 0, "level": qtyUnknown})
	}
	return reply(req.MsgID, map[string]interface{}{"levels": levels})
}

// decodeLevels parses a COUNT-prefixed sequence of (level(2 LE) |
// value(4 LE) | cc(3 ASCII)) records, the shape GET_ALL_LEVELS and
// CASHBOX_PAYOUT_OPERATION_DATA both return, and reports the offset of the
// first byte following the last decoded counter.
func decodeLevels(body []byte) ([]map[string]interface{}, int) {
	if len(body) < 1 {
		return nil, 0
	}
	count := int(body[0])
	offset := 1
	levels := make([]map[string]interface{}, 0, count)
	for i := 0; i < count && offset+9 <= len(body); i++ {
		level := uint16(body[offset]) | uint16(body[offset+1])<<8
		value := uint32(body[offset+2]) | uint32(body[offset+3])<<8 | uint32(body[offset+4])<<16 | uint32(body[offset+5])<<24
		cc := string(body[offset+6 : offset+9])
		levels = append(levels, map[string]interface{}{
			"level": level, "value": value, "cc": cc,
		})
		offset += 9
	}
	return levels, offset
}

func handleGetFirmwareVersion(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdGetFirmwareVersion, nil)
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	if !resp.Code.IsOK() {
		return sspReply(req, resp, nil)
	}
	return reply(req.MsgID, map[string]interface{}{"version": trimNUL(resp.Body)})
}

func handleGetDatasetVersion(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdGetDatasetVersion, nil)
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	if !resp.Code.IsOK() {
		return sspReply(req, resp, nil)
	}
	return reply(req.MsgID, map[string]interface{}{"version": trimNUL(resp.Body)})
}

func trimNUL(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

func handleChannelSecurityData(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdChannelSecurityData, nil)
	return sspReply(req, resp, err)
}

var rejectReasons = map[byte]string{
	0x00: "note accepted",
	0x01: "note length incorrect",
	0x02: "internal validation failure: average fail",
	0x03: "internal validation failure: coastline fail",
	0x04: "internal validation failure: graph fail",
	0x05: "internal validation failure: buried fail",
	0x06: "channel inhibited",
	0x07: "second note inserted",
	0x08: "reject by host",
	0x09: "note recognised in more than one channel",
	0x0A: "rear sensor error",
	0x0B: "note too long",
	0x0C: "disabled by host",
	0x0D: "mechanism slow/stalled",
	0x0E: "strimming attempt detected",
	0x0F: "fraud channel reject",
	0x10: "no notes inserted",
	0x11: "peak detect fail",
	0x12: "twisted note detected",
	0x13: "escrow time-out",
	0x14: "bar code scan fail",
	0x15: "rear sensor 2 fail",
	0x16: "slot fail 1",
	0x17: "slot fail 2",
	0x18: "lens over-sample",
	0x19: "width detect fail",
	0x1A: "short note detected",
	0x1B: "note payout",
	0x1C: "unable to stack note",
}

func handleLastRejectNote(p *device.Peer, req Request) Response {
	resp, err := p.Session.Exec(ssp.CmdLastRejectNote, nil)
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	if !resp.Code.IsOK() || len(resp.Body) == 0 {
		return sspReply(req, resp, nil)
	}
	code := resp.Body[0]
	reason, ok := rejectReasons[code]
	if !ok {
		reason = "undefined in API"
	}
	return reply(req.MsgID, map[string]interface{}{"reason": reason, "code": code})
}

func handleConfigureBezel(p *device.Peer, req Request) Response {
	var body struct {
		R    *int `json:"r"`
		G    *int `json:"g"`
		B    *int `json:"b"`
		Type *int `json:"type"`
	}
	if err := json.Unmarshal(req.Raw, &body); err != nil {
		return propertyErrorReply(req.MsgID, "r")
	}
	if body.R == nil {
		return propertyErrorReply(req.MsgID, "r")
	}
	if body.G == nil {
		return propertyErrorReply(req.MsgID, "g")
	}
	if body.B == nil {
		return propertyErrorReply(req.MsgID, "b")
	}
	if body.Type == nil {
		return propertyErrorReply(req.MsgID, "type")
	}

	cmdBody := []byte{byte(*body.R), byte(*body.G), byte(*body.B), ssp.BezelNonVolatile, byte(*body.Type)}
	resp, err := p.Session.Exec(ssp.CmdConfigureBezel, cmdBody)
	return sspReply(req, resp, err)
}
