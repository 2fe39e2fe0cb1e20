package ssp

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/internal/serialport"
)

// Default timing, matching the vendor's recommended SSP host configuration.
const (
	DefaultTimeout    = 1000 * time.Millisecond
	DefaultRetryLevel = 3
	DefaultBaudRate   = 9600
)

// Response is the decoded result of one command/response exchange: the
// leading status byte and any trailing data.
type Response struct {
	Code ResponseCode
	Body []byte
}

// KeyAgreement is implemented by whatever owns a peer's negotiated
// encryption state; the Session calls back into it to run (or re-run) the
// DH handshake when the peer reports KEY_NOT_SET.
type KeyAgreement interface {
	// Negotiate performs the full SET_GENERATOR/SET_MODULUS/
	// REQUEST_KEY_EXCHANGE handshake against the peer and installs the
	// resulting Cipher for subsequent encrypted exchanges.
	Negotiate() error
	// Cipher returns the currently installed cipher, or nil if the
	// session is not yet encrypted.
	Cipher() *Cipher
}

// Session serialises one request-at-a-time exchange with a single peer
// over a Link, handling framing, optional encryption, retries and sequence
// bit bookkeeping. Exactly one Session exists per Peer.
type Session struct {
	Link       serialport.Link
	Address    uint8
	Timeout    time.Duration
	RetryLevel int

	seq   uint8
	agree KeyAgreement
}

// NewSession constructs a Session with the vendor-recommended defaults.
// agree may be nil if the caller installs one later via SetKeyAgreement
// before the first Exec (needed when the KeyAgreement implementation
// itself must hold a reference back to the Session, as device.Peer does).
func NewSession(link serialport.Link, address uint8, agree KeyAgreement) *Session {
	return &Session{
		Link:       link,
		Address:    address,
		Timeout:    DefaultTimeout,
		RetryLevel: DefaultRetryLevel,
		agree:      agree,
	}
}

// SetKeyAgreement installs or replaces the session's KeyAgreement. It must
// be called before the first Exec if NewSession was given a nil agree.
func (s *Session) SetKeyAgreement(agree KeyAgreement) {
	s.agree = agree
}

// Exec sends one command to the peer and returns its response, retrying
// transparently on framing failures and renegotiating encryption once on
// KEY_NOT_SET.
func (s *Session) Exec(cmdByte byte, body []byte) (Response, error) {
	resp, err := s.ExecRaw(cmdByte, body)
	if err == nil && resp.Code == ResponseKeyNotSet {
		log.Warnf("[SSP] peer 0x%02x reports key not set, renegotiating", s.Address)
		if negErr := s.agree.Negotiate(); negErr != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrKeyNotSet, negErr)
		}
		resp, err = s.ExecRaw(cmdByte, body)
	}
	return resp, err
}

// ExecRaw performs a single compose-send-receive exchange (with the
// session's ordinary retry-on-timeout behavior) but without KEY_NOT_SET
// renegotiation handling. It is exported for use by key-agreement
// negotiation itself, which must issue SET_GENERATOR/SET_MODULUS/
// REQUEST_KEY_EXCHANGE without triggering recursive renegotiation.
func (s *Session) ExecRaw(cmdByte byte, body []byte) (Response, error) {
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, cmdByte)
	payload = append(payload, body...)
	return s.execOnce(payload)
}

// execOnce performs one compose-send-receive cycle, retrying on CRC
// mismatch, timeout, or address/sequence mismatch without toggling the
// sequence bit.
func (s *Session) execOnce(payload []byte) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.RetryLevel; attempt++ {
		frame, err := s.encode(payload)
		if err != nil {
			return Response{}, err
		}
		if err := s.Link.Write(frame); err != nil {
			lastErr = err
			continue
		}

		deadline := time.Now().Add(s.Timeout)
		respFrame, err := Decode(linkReader{s.Link}, deadline)
		if err != nil {
			lastErr = translateFramingError(err)
			log.Debugf("[SSP] peer 0x%02x attempt %d failed: %v", s.Address, attempt, lastErr)
			continue
		}
		if respFrame.Address != s.Address || respFrame.Seq != s.seq {
			lastErr = ErrTimeout
			log.Debugf("[SSP] peer 0x%02x attempt %d: address/seq mismatch", s.Address, attempt)
			continue
		}

		body, err := s.decryptIfNeeded(respFrame.Payload)
		if err != nil {
			lastErr = err
			continue
		}
		if len(body) == 0 {
			lastErr = ErrTruncated
			continue
		}

		s.seq ^= 1
		return Response{Code: ResponseCode(body[0]), Body: body[1:]}, nil
	}
	return Response{}, lastErr
}

func (s *Session) encode(payload []byte) ([]byte, error) {
	if cipher := s.agree.Cipher(); cipher != nil {
		wrapped, err := cipher.Wrap(payload)
		if err != nil {
			return nil, err
		}
		return Encode(s.Address, s.seq, wrapped)
	}
	return Encode(s.Address, s.seq, payload)
}

func (s *Session) decryptIfNeeded(payload []byte) ([]byte, error) {
	cipher := s.agree.Cipher()
	if cipher == nil {
		return payload, nil
	}
	return cipher.Unwrap(payload)
}

func translateFramingError(err error) error {
	if err == ErrTruncated || err == serialport.ErrTimeout {
		return ErrTimeout
	}
	return err
}

// linkReader adapts a serialport.Link to the ssp.Reader interface expected
// by Decode.
type linkReader struct {
	link serialport.Link
}

func (r linkReader) Read(n int, deadline time.Time) ([]byte, error) {
	return r.link.Read(n, deadline)
}
