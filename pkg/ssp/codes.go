package ssp

// ResponseCode is the single status byte that leads every SSP response
// payload.
type ResponseCode uint8

// Response codes as specified by SSP v6.
const (
	ResponseOK                  ResponseCode = 0xF0
	ResponseUnknownCommand      ResponseCode = 0xF2
	ResponseIncorrectParameters ResponseCode = 0xF3
	ResponseInvalidParameter    ResponseCode = 0xF4
	ResponseCommandNotProcessed ResponseCode = 0xF5
	ResponseSoftwareError       ResponseCode = 0xF6
	ResponseChecksumError       ResponseCode = 0xF7
	ResponseFailure             ResponseCode = 0xF8
	ResponseHeaderFailure       ResponseCode = 0xF9
	ResponseKeyNotSet           ResponseCode = 0xFA
)

// responseStrings maps a response code to its human-readable description.
var responseStrings = map[ResponseCode]string{
	ResponseOK:                  "ok",
	ResponseUnknownCommand:      "unknown command",
	ResponseIncorrectParameters: "incorrect parameters",
	ResponseInvalidParameter:    "invalid parameter",
	ResponseCommandNotProcessed: "command not processed",
	ResponseSoftwareError:       "software error",
	ResponseChecksumError:       "checksum error",
	ResponseFailure:             "failure",
	ResponseHeaderFailure:       "header failure",
	ResponseKeyNotSet:           "key not set",
}

// Error implements the error interface so a ResponseCode can be returned
// and compared directly as a Go error.
func (c ResponseCode) Error() string {
	if s, ok := responseStrings[c]; ok {
		return s
	}
	return "unknown response code"
}

// IsOK reports whether the code indicates success.
func (c ResponseCode) IsOK() bool {
	return c == ResponseOK
}

// CommandNotProcessedReason decodes the second response byte that
// accompanies a ResponseCommandNotProcessed for a payout/float command.
type CommandNotProcessedReason uint8

const (
	ReasonNotEnoughValue CommandNotProcessedReason = 0x01
	ReasonCannotPayExact CommandNotProcessedReason = 0x02
	ReasonBusy           CommandNotProcessedReason = 0x03
	ReasonDisabled       CommandNotProcessedReason = 0x04
)

var reasonStrings = map[CommandNotProcessedReason]string{
	ReasonNotEnoughValue: "not enough value",
	ReasonCannotPayExact: "can't pay exact amount",
	ReasonBusy:           "busy",
	ReasonDisabled:       "disabled",
}

// String renders the human-readable translation of a payout/float failure
// reason, falling back to "unknown" for unrecognised codes.
func (r CommandNotProcessedReason) String() string {
	if s, ok := reasonStrings[r]; ok {
		return s
	}
	return "unknown"
}

// Transport / framing level errors, distinct from protocol response codes.
type TransportError string

func (e TransportError) Error() string { return string(e) }

const (
	ErrTimeout   TransportError = "ssp: timeout"
	ErrKeyNotSet TransportError = "ssp: key not set (renegotiation failed)"
)
