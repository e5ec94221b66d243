package protocol

import (
	"testing"

	"github.com/pkg/errors"
)

func TestVLQRoundTrip(t *testing.T) {
	testCases := []struct {
		v    int32
		size int
	}{
		{0, 1},
		{95, 1},
		{-32, 1},
		{96, 2},
		{-33, 2},
		{0x0FFF, 2},
		{0xFFF0, 3},
		{1000000, 3},
		{-1000000, 4},
		{0x7FFFFFFF, 5},
		{-0x80000000, 5},
	}

	for _, tc := range testCases {
		out := NewFrameBuffer()
		EncodeVLQInt(out, tc.v)
		encoded := out.Bytes()
		if len(encoded) != tc.size {
			t.Errorf("%d encoded in %d bytes, want %d", tc.v, len(encoded), tc.size)
		}

		data := encoded
		got, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("decoding %d: %v", tc.v, err)
			continue
		}
		if got != tc.v || len(data) != 0 {
			t.Errorf("decoded %d with %d bytes left, want %d", got, len(data), tc.v)
		}
	}
}

func TestVLQSampleWords(t *testing.T) {
	// 32 bps samples sit in the top 12 bits of the word, so the upper half
	// of the range has the sign bit set
	for _, w := range []uint32{0x00000000, 0x00100000, 0x7FF00000, 0x80000000, 0xFFF00000, 0xFFFFFFFF} {
		out := NewFrameBuffer()
		EncodeVLQUint(out, w)
		if len(out.Bytes()) > 5 {
			t.Errorf("0x%08X encoded in %d bytes", w, len(out.Bytes()))
		}

		data := out.Bytes()
		got, err := DecodeVLQUint(&data)
		if err != nil || got != w {
			t.Errorf("0x%08X decoded as 0x%08X, %v", w, got, err)
		}
	}
}

func TestVLQErrors(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrInvalidVLQ) {
		t.Errorf("six byte quantity: got %v, want ErrInvalidVLQ", err)
	}

	for _, in := range [][]byte{nil, {0x80}, {0x81, 0x81}} {
		data := in
		if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrBufferTooSmall) {
			t.Errorf("% x: got %v, want ErrBufferTooSmall", in, err)
		}
	}
}
