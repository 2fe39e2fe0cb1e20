// Package router dispatches JSON command envelopes arriving on a peer's
// request topic to the handler for their "cmd" property, publishing a
// JSON response envelope on the matching response topic, mirroring
// payoutd.c's cbOnRequestMessage dispatch.
package router

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Request is the inbound command envelope. Unknown fields used by
// individual commands (amount, level, channels, ...) are kept raw in
// Raw and re-parsed by the handler that needs them.
type Request struct {
	MsgID string          `json:"msgId"`
	Cmd   string          `json:"cmd"`
	Raw   json.RawMessage `json:"-"`
}

// ParseRequest decodes a command envelope. "msgId" and "cmd" are taken
// only when they are strings; a property that is absent or of another
// type is left empty, so that Dispatch's two property checks (matching
// the ones cbOnRequestMessage performs before any dispatch is attempted)
// reject it.
func ParseRequest(payload []byte) (Request, error) {
	var probe struct {
		MsgID interface{} `json:"msgId"`
		Cmd   interface{} `json:"cmd"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Request{}, err
	}
	req := Request{Raw: json.RawMessage(payload)}
	if s, ok := probe.MsgID.(string); ok {
		req.MsgID = s
	}
	if s, ok := probe.Cmd.(string); ok {
		req.Cmd = s
	}
	return req, nil
}

// Response is the outbound reply envelope. CorrelID always echoes the
// request's msgId; MsgID is a fresh id minted for the response itself,
// matching payoutd.c generating a new uuid per incoming message rather
// than reusing the request's. Fields carries the command-specific
// payload.
type Response struct {
	CorrelID string
	MsgID    string
	Fields   map[string]interface{}
}

// MarshalJSON flattens CorrelID and MsgID into the "correlId"/"msgId"
// properties alongside Fields, matching the flat JSON objects
// payoutd.c's replyWith* helpers produce.
func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["correlId"] = r.CorrelID
	out["msgId"] = r.MsgID
	return json.Marshal(out)
}

func reply(correlID string, fields map[string]interface{}) Response {
	id, err := uuid.NewUUID() // time-based (version 1)
	if err != nil {
		id = uuid.New()
	}
	return Response{CorrelID: correlID, MsgID: id.String(), Fields: fields}
}

func errorReply(correlID, message string) Response {
	return reply(correlID, map[string]interface{}{"error": message})
}

func propertyErrorReply(correlID, property string) Response {
	return reply(correlID, map[string]interface{}{
		"error":    "missing or invalid property",
		"property": property,
	})
}
