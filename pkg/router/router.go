package router

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/device"
	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// Handler processes one parsed Request against a bound Peer and returns
// the Response envelope to publish back on the peer's response topic.
type Handler func(p *device.Peer, req Request) Response

// Router binds a peer to the closed set of commands it accepts and
// dispatches incoming request-topic payloads to the matching Handler.
type Router struct {
	Peer     *device.Peer
	handlers map[string]Handler
	// Quit is invoked for the "quit" command, which is handled before the
	// hardware-availability check and regardless of it, matching
	// cbOnRequestMessage's dispatch order.
	Quit func()
}

// New constructs a Router for peer with the full command table wired.
func New(peer *device.Peer, quit func()) *Router {
	r := &Router{Peer: peer, Quit: quit}
	r.handlers = map[string]Handler{
		"test":                          handleTest,
		"empty":                         handleEmpty,
		"smart-empty":                   handleSmartEmpty,
		"enable":                        handleEnable,
		"disable":                       handleDisable,
		"enable-channels":               handleEnableChannels,
		"disable-channels":              handleDisableChannels,
		"inhibit-channels":              handleInhibitChannels,
		"test-payout":                   handlePayout,
		"do-payout":                     handlePayout,
		"test-float":                    handleFloat,
		"do-float":                      handleFloat,
		"set-denomination-level":        handleSetDenominationLevel,
		"set-cashbox-payout-limit":      handleSetCashboxPayoutLimit,
		"get-all-levels":                handleGetAllLevels,
		"cashbox-payout-operation-data": handleCashboxPayoutOperationData,
		"get-firmware-version":          handleGetFirmwareVersion,
		"get-dataset-version":           handleGetDatasetVersion,
		"channel-security-data":         handleChannelSecurityData,
		"last-reject-note":              handleLastRejectNote,
		"configure-bezel":               handleConfigureBezel,
	}
	return r
}

// Dispatch parses payload and routes it to the matching handler,
// returning the JSON-encoded response envelope ready to publish.
func (r *Router) Dispatch(payload []byte) []byte {
	req, err := ParseRequest(payload)
	if err != nil {
		return encode(errorReply("", fmt.Sprintf("could not parse json: %v", err)))
	}
	if req.MsgID == "" {
		return encode(propertyErrorReply("", "msgId"))
	}
	if req.Cmd == "" {
		return encode(propertyErrorReply(req.MsgID, "cmd"))
	}

	log.Infof("[ROUTER] processing cmd=%q msgId=%q for device=%q", req.Cmd, req.MsgID, r.Peer.Name)

	if req.Cmd == "quit" {
		if r.Quit != nil {
			r.Quit()
		}
		return encode(reply(req.MsgID, map[string]interface{}{"code": ssp.ResponseOK.Error()}))
	}

	if req.Cmd == "test" {
		return encode(handleTest(r.Peer, req))
	}

	if !r.Peer.IsAvailable() {
		log.Warnf("[ROUTER] rejecting cmd=%q msgId=%q, hardware unavailable", req.Cmd, req.MsgID)
		return encode(errorReply(req.MsgID, "hardware unavailable"))
	}

	handler, ok := r.handlers[req.Cmd]
	if !ok {
		log.Warnf("[ROUTER] no handler for cmd=%q", req.Cmd)
		return encode(reply(req.MsgID, map[string]interface{}{
			"error": "unknown command",
			"cmd":   req.Cmd,
		}))
	}
	return encode(handler(r.Peer, req))
}

func encode(resp Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// Response.MarshalJSON only fails if a field value is unmarshalable,
		// which none of the handlers below produce.
		return []byte(`{"error":"internal encoding failure"}`)
	}
	return out
}

// sspReply renders a handler's SSP exchange outcome the way
// replyWithSspResponse does: the response code's string form on success
// or failure alike, with the correlId always present.
func sspReply(req Request, resp ssp.Response, err error) Response {
	if err != nil {
		return errorReply(req.MsgID, err.Error())
	}
	return reply(req.MsgID, map[string]interface{}{"code": resp.Code.Error()})
}
