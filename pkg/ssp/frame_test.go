package ssp

import (
	"bytes"
	"testing"
	"testing/quick"
	"time"
)

// fakeReader serves bytes from an in-memory buffer, ignoring deadlines.
type fakeReader struct {
	buf []byte
	pos int
}

func (f *fakeReader) Read(n int, _ time.Time) ([]byte, error) {
	if f.pos >= len(f.buf) {
		return nil, ErrTruncated
	}
	end := f.pos + n
	if end > len(f.buf) {
		end = len(f.buf)
	}
	out := f.buf[f.pos:end]
	f.pos = end
	return out, nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prop := func(addr uint8, seq bool, payload []byte) bool {
		if len(payload) > maxPayload {
			payload = payload[:maxPayload]
		}
		var seqBitVal uint8
		if seq {
			seqBitVal = 1
		}
		encoded, err := Encode(addr, seqBitVal, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		frame, err := Decode(&fakeReader{buf: encoded}, time.Now().Add(time.Second))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return frame.Address == addr&addressMask &&
			frame.Seq == seqBitVal &&
			bytes.Equal(frame.Payload, payload)
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}

func TestDecodeByteStuffing(t *testing.T) {
	// payload deliberately contains an 0x7F byte that must be stuffed
	encoded, err := Encode(0x10, 1, []byte{0x01, stx, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := Decode(&fakeReader{buf: encoded}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{0x01, stx, 0x02}
	if !bytes.Equal(frame.Payload, want) {
		t.Fatalf("payload = %x, want %x", frame.Payload, want)
	}
}

func TestDecodeCrcMismatch(t *testing.T) {
	encoded, err := Encode(0x00, 0, []byte{0x11})
	if err != nil {
		t.Fatal(err)
	}
	encoded[len(encoded)-1] ^= 0xFF // corrupt CRC
	_, err = Decode(&fakeReader{buf: encoded}, time.Now().Add(time.Second))
	if err != ErrCrcMismatch {
		t.Fatalf("got err = %v, want ErrCrcMismatch", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	encoded, err := Encode(0x10, 0, []byte{0x07})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(&fakeReader{buf: encoded[:len(encoded)-2]}, time.Now().Add(time.Second))
	if err != ErrTruncated {
		t.Fatalf("got err = %v, want ErrTruncated", err)
	}
}
