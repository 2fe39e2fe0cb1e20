package device

import (
	"encoding/binary"
	"fmt"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// keyAgreement implements ssp.KeyAgreement for one Peer: it runs the
// SET_GENERATOR/SET_MODULUS/REQUEST_KEY_EXCHANGE handshake in plaintext
// over the peer's Session and installs the resulting Cipher.
type keyAgreement struct {
	session   *ssp.Session
	preshared uint64
	cipher    *ssp.Cipher
}

func newKeyAgreement(session *ssp.Session, preshared uint64) *keyAgreement {
	return &keyAgreement{session: session, preshared: preshared}
}

// Cipher returns the currently installed cipher, or nil before the first
// successful Negotiate.
func (k *keyAgreement) Cipher() *ssp.Cipher {
	return k.cipher
}

// Negotiate performs one full key exchange and replaces the installed
// cipher. It is called once eagerly during device setup and again,
// lazily, whenever the peer reports KEY_NOT_SET.
func (k *keyAgreement) Negotiate() error {
	k.cipher = nil // the handshake itself always goes out in plaintext
	exchange, err := ssp.NewKeyExchange()
	if err != nil {
		return fmt.Errorf("device: generating key exchange: %w", err)
	}

	var genBuf, modBuf, hostBuf [8]byte
	binary.LittleEndian.PutUint64(genBuf[:], exchange.Generator)
	binary.LittleEndian.PutUint64(modBuf[:], exchange.Modulus)
	binary.LittleEndian.PutUint64(hostBuf[:], exchange.HostIntermediate())

	if _, err := k.session.ExecRaw(ssp.CmdSetGenerator, genBuf[:]); err != nil {
		return fmt.Errorf("device: SET_GENERATOR: %w", err)
	}
	if _, err := k.session.ExecRaw(ssp.CmdSetModulus, modBuf[:]); err != nil {
		return fmt.Errorf("device: SET_MODULUS: %w", err)
	}
	resp, err := k.session.ExecRaw(ssp.CmdRequestKeyExchange, hostBuf[:])
	if err != nil {
		return fmt.Errorf("device: REQUEST_KEY_EXCHANGE: %w", err)
	}
	if !resp.Code.IsOK() {
		return fmt.Errorf("device: REQUEST_KEY_EXCHANGE: %w", resp.Code)
	}
	if len(resp.Body) < 8 {
		return fmt.Errorf("device: REQUEST_KEY_EXCHANGE: short intermediate (%d bytes)", len(resp.Body))
	}
	peerIntermediate := binary.LittleEndian.Uint64(resp.Body[:8])

	key := exchange.SessionKey(peerIntermediate, k.preshared)
	k.cipher = ssp.NewCipher(key)
	return nil
}
