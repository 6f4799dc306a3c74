package datagram

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	buf, err := Encode(Datagram{
		Header:  Header{BlockID: 0x01020304, ChunkCount: 2, ChunkID: 1},
		Payload: []byte("ab"),
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expected := []byte{
		0x04, 0x03, 0x02, 0x01, // block id
		0x02, 0x00, 0x00, 0x00, // chunk count
		0x01, 0x00, 0x00, 0x00, // chunk id
		0x02, 0x00, // payload length
		'a', 'b',
	}
	if !bytes.Equal(buf, expected) {
		t.Errorf("Expected %x, got %x", expected, buf)
	}
}

func TestDecode(t *testing.T) {
	buf, _ := Encode(Datagram{
		Header:  Header{BlockID: 7, ChunkCount: 3, ChunkID: 2},
		Payload: []byte("hello"),
	})

	d, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if d.Header.BlockID != 7 || d.Header.ChunkCount != 3 || d.Header.ChunkID != 2 {
		t.Errorf("Unexpected header: %+v", d.Header)
	}
	if d.Header.PayloadLen != 5 {
		t.Errorf("Expected payload length 5, got %d", d.Header.PayloadLen)
	}
	if string(d.Payload) != "hello" {
		t.Errorf("Expected payload 'hello', got %q", d.Payload)
	}

	// Payload must not alias the read buffer.
	buf[HeaderSize] = 'X'
	if string(d.Payload) != "hello" {
		t.Error("Decoded payload aliases the input buffer")
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	buf, _ := Encode(Datagram{Header: Header{ChunkCount: 1}, Payload: []byte("xy")})
	buf = append(buf, 0xff, 0xff)

	d, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(d.Payload) != "xy" {
		t.Errorf("Expected payload 'xy', got %q", d.Payload)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, _ := Encode(Datagram{Header: Header{ChunkCount: 1}, Payload: []byte("abcd")})

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short header", valid[:HeaderSize-1]},
		{"truncated payload", valid[:len(valid)-1]},
		{"zero chunk count", EncodeHeader(Header{ChunkCount: 0})},
		{"chunk id out of range", EncodeHeader(Header{ChunkCount: 2, ChunkID: 2})},
		{"chunk count above limit", EncodeHeader(Header{ChunkCount: 1<<20 + 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf, DefaultLimits())
			if !errors.Is(err, ErrMalformedDatagram) {
				t.Errorf("Expected ErrMalformedDatagram, got %v", err)
			}
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(Datagram{Header: Header{ChunkCount: 1}, Payload: make([]byte, MaxPayload+1)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}
