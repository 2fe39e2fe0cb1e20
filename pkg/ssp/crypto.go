package ssp

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/metalab-kassomat/kassomat-payout/internal/crc"
)

const stex byte = 0x7E

// ErrCounterMismatch is returned when a decrypted packet's replay counter
// does not match the one the host expects the peer to mirror back.
var ErrCounterMismatch = errors.New("ssp: encryption counter mismatch")

// KeyExchange holds the host side of a single Diffie-Hellman-style
// negotiation: a random 64-bit generator, modulus and private exponent, from
// which the host-side intermediate is derived and later combined with the
// peer's intermediate to produce the session key.
type KeyExchange struct {
	Generator uint64
	Modulus   uint64
	private   uint64
}

// NewKeyExchange draws fresh random 64-bit generator, modulus and private
// exponent values, as the host does at the start of every negotiation.
func NewKeyExchange() (*KeyExchange, error) {
	gen, err := randomUint64()
	if err != nil {
		return nil, err
	}
	mod, err := randomUint64()
	if err != nil {
		return nil, err
	}
	if mod == 0 {
		mod = 1
	}
	priv, err := randomUint64()
	if err != nil {
		return nil, err
	}
	return &KeyExchange{Generator: gen, Modulus: mod, private: priv}, nil
}

// HostIntermediate computes generator^private mod modulus, the value sent
// to the peer in REQUEST_KEY_EXCHANGE.
func (k *KeyExchange) HostIntermediate() uint64 {
	return modExp(k.Generator, k.private, k.Modulus)
}

// SessionKey combines the peer's intermediate value with the host's private
// exponent to derive the shared 64-bit secret, then builds the 128-bit AES
// key as low 64 bits = derived secret, high 64 bits = the preshared fixed
// key.
func (k *KeyExchange) SessionKey(peerIntermediate uint64, presharedKey uint64) [16]byte {
	shared := modExp(peerIntermediate, k.private, k.Modulus)

	var key [16]byte
	binary.LittleEndian.PutUint64(key[0:8], shared)
	binary.LittleEndian.PutUint64(key[8:16], presharedKey)
	return key
}

// modExp computes base^exp mod modulus using arbitrary-precision
// arithmetic, then truncates back to 64 bits (the SSP key exchange is
// defined entirely over 64-bit operands).
func modExp(base, exp, modulus uint64) uint64 {
	if modulus == 0 {
		return 0
	}
	b := new(big.Int).SetUint64(base)
	e := new(big.Int).SetUint64(exp)
	m := new(big.Int).SetUint64(modulus)
	return new(big.Int).Exp(b, e, m).Uint64()
}

func randomUint64() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("ssp: generating random value: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Cipher wraps and unwraps encrypted SSP packets using a negotiated AES-128
// session key. A Cipher is scoped to one peer and tracks the monotonic send
// counter the peer is expected to mirror back.
type Cipher struct {
	block   [16]byte
	counter uint32
}

// NewCipher creates a cipher bound to the given session key, with the
// replay counter reset to zero (as at the start of every fresh
// negotiation).
func NewCipher(key [16]byte) *Cipher {
	return &Cipher{block: key}
}

// Wrap encrypts payload into the inner encrypted-packet format:
// STEX | AES128ECB( LEN | COUNT(LE) | DATA | PACKING | CRC16(LE) ), and
// advances the host's send counter.
func (c *Cipher) Wrap(payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	inner := make([]byte, 0, 5+len(payload)+2)
	inner = append(inner, byte(len(payload)))
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], c.counter)
	inner = append(inner, countBuf[:]...)
	inner = append(inner, payload...)

	checksum := crc.Sum16(inner)
	withCrc := append(inner, byte(checksum), byte(checksum>>8))

	padded, err := padToBlock(withCrc)
	if err != nil {
		return nil, err
	}

	cipherText, err := ecbEncrypt(c.block, padded)
	if err != nil {
		return nil, err
	}

	c.counter++

	out := make([]byte, 0, 1+len(cipherText))
	out = append(out, stex)
	out = append(out, cipherText...)
	return out, nil
}

// Unwrap decrypts an encrypted packet payload (the bytes following STEX),
// validates the mirrored counter and inner CRC, and returns the inner data.
func (c *Cipher) Unwrap(encrypted []byte) ([]byte, error) {
	if len(encrypted) == 0 || encrypted[0] != stex {
		return nil, fmt.Errorf("ssp: encrypted payload missing STEX marker")
	}
	cipherText := encrypted[1:]
	if len(cipherText)%16 != 0 {
		return nil, fmt.Errorf("ssp: encrypted payload is not block-aligned")
	}

	plain, err := ecbDecrypt(c.block, cipherText)
	if err != nil {
		return nil, err
	}
	if len(plain) < 5+2 {
		return nil, ErrTruncated
	}

	length := int(plain[0])
	count := binary.LittleEndian.Uint32(plain[1:5])
	if count != c.counter {
		return nil, ErrCounterMismatch
	}
	if 5+length+2 > len(plain) {
		return nil, ErrTruncated
	}
	data := plain[5 : 5+length]
	crcBytes := plain[5+length : 5+length+2]
	wantCrc := uint16(crcBytes[0]) | uint16(crcBytes[1])<<8
	gotCrc := crc.Sum16(plain[:5+length])
	if wantCrc != gotCrc {
		return nil, ErrCrcMismatch
	}

	c.counter++
	return data, nil
}

// padToBlock appends random packing bytes so the total length becomes a
// multiple of the AES block size, per SSP's PACKING field.
func padToBlock(data []byte) ([]byte, error) {
	remainder := len(data) % 16
	if remainder == 0 {
		return data, nil
	}
	padLen := 16 - remainder
	pad := make([]byte, padLen)
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("ssp: generating packing bytes: %w", err)
	}
	return append(data, pad...), nil
}

func ecbEncrypt(key [16]byte, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("ssp: aes cipher: %w", err)
	}
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}
	return out, nil
}

func ecbDecrypt(key [16]byte, cipherText []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("ssp: aes cipher: %w", err)
	}
	out := make([]byte, len(cipherText))
	for i := 0; i < len(cipherText); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], cipherText[i:i+aes.BlockSize])
	}
	return out, nil
}
