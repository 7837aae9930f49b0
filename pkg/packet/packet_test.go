package packet

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "single packet message",
			pkt: Packet{
				Dest: 9, Src: 8,
				SOM: true, EOM: true,
				Seq: 0, TagOwner: true, Tag: 3,
				Payload: []byte{0x00, 0x81, 0x02},
			},
		},
		{
			name: "middle fragment",
			pkt: Packet{
				Dest: 20, Src: 9,
				SOM: false, EOM: false,
				Seq: 2, TagOwner: false, Tag: 7,
				Payload: bytes.Repeat([]byte{0xAA}, 64),
			},
		},
		{
			name: "final fragment",
			pkt: Packet{
				Dest: mctp.EIDBroadcast, Src: 9,
				SOM: false, EOM: true,
				Seq: 3, TagOwner: true, Tag: 0,
				Payload: []byte{0xFF},
			},
		},
		{
			name: "empty payload",
			pkt: Packet{
				Dest: 10, Src: 11,
				SOM: true, EOM: true,
				Seq: 1, TagOwner: true, Tag: 5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.pkt.Validate(); err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			frame := Encode(tt.pkt)
			got, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.pkt) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, tt.pkt)
			}
		})
	}
}

func TestDecodeShortFrame(t *testing.T) {
	for _, frame := range [][]byte{nil, {0x01}, {0x01, 0x09, 0x08}} {
		_, err := Decode(frame)
		if !errors.Is(err, ErrShortFrame) {
			t.Errorf("Decode(%v): expected ErrShortFrame, got %v", frame, err)
		}
		if !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("Decode(%v): error should wrap ErrMalformedPacket", frame)
		}
	}
}

func TestDecodeHeaderVersion(t *testing.T) {
	frame := []byte{0x02, 0x09, 0x08, 0xC8}
	_, err := Decode(frame)
	if !errors.Is(err, ErrHeaderVersion) {
		t.Errorf("expected ErrHeaderVersion, got %v", err)
	}

	// Upper nibble of byte 0 is reserved and must be ignored.
	frame = []byte{0xF1, 0x09, 0x08, 0xC8}
	if _, err := Decode(frame); err != nil {
		t.Errorf("reserved bits should not fail decode: %v", err)
	}
}

func TestDecodeOversizePayload(t *testing.T) {
	frame := make([]byte, HeaderLen+MaxPayload+1)
	frame[0] = 0x01
	_, err := Decode(frame)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{name: "sequence out of range", pkt: Packet{Seq: 4}},
		{name: "tag out of range", pkt: Packet{Tag: 8}},
		{name: "payload too large", pkt: Packet{Payload: make([]byte, MaxPayload+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.pkt.Validate(); !errors.Is(err, ErrInvalidPacket) {
				t.Errorf("expected ErrInvalidPacket, got %v", err)
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	pkt := Packet{
		Dest: 0x10, Src: 0x20,
		SOM: true, EOM: false,
		Seq: 2, TagOwner: true, Tag: 5,
		Payload: []byte{0x01},
	}
	frame := Encode(pkt)

	want := []byte{0x01, 0x10, 0x20, 0x80 | 0x20 | 0x08 | 0x05, 0x01}
	if !bytes.Equal(frame, want) {
		t.Errorf("wire layout mismatch:\n got %x\nwant %x", frame, want)
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	frame := []byte{0x01, 0x09, 0x08, 0xC0, 0x42}
	pkt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	frame[4] = 0x00
	if pkt.Payload[0] != 0x42 {
		t.Error("decoded payload aliases the input frame")
	}
}
