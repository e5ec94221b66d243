package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPacketRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	pw := NewPacketWriter(&wire)

	packets := [][]uint32{
		{0x1230, 0x4560, 0x7890},
		{0xFFF00000, 0x00100000},
		{0x12},
	}
	codes := []uint8{1, 3, 0}
	for i, p := range packets {
		if err := pw.WritePacket(codes[i], p); err != nil {
			t.Fatalf("WritePacket(%d) failed: %v", i, err)
		}
	}

	pr := NewPacketReader(&wire)
	for i, want := range packets {
		got, err := pr.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket(%d) failed: %v", i, err)
		}
		if got.BPS != codes[i] {
			t.Errorf("Packet %d: expected bps code %d, got %d", i, codes[i], got.BPS)
		}
		if got.Seq != uint8(i) {
			t.Errorf("Packet %d: expected seq %d, got %d", i, i, got.Seq)
		}
		if diff := cmp.Diff(want, got.Samples); diff != "" {
			t.Errorf("Packet %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := pr.ReadPacket(); err != io.EOF {
		t.Errorf("Expected io.EOF after last frame, got %v", err)
	}
	if pr.Dropped != 0 || pr.Resyncs != 0 {
		t.Errorf("Clean stream reported dropped=%d resyncs=%d", pr.Dropped, pr.Resyncs)
	}
}

func TestPacketReaderResync(t *testing.T) {
	var wire bytes.Buffer
	// Line noise ending in a sync byte.
	wire.Write([]byte{0x33, 0x44, 0x7E})
	pw := NewPacketWriter(&wire)
	if err := pw.WritePacket(1, []uint32{0x1000}); err != nil {
		t.Fatal(err)
	}
	// Corrupt the CRC of the second frame.
	if err := pw.WritePacket(1, []uint32{0x2000}); err != nil {
		t.Fatal(err)
	}
	raw := wire.Bytes()
	raw[len(raw)-2] ^= 0xFF
	if err := pw.WritePacket(1, []uint32{0x3000}); err != nil {
		t.Fatal(err)
	}

	pr := NewPacketReader(bytes.NewReader(wire.Bytes()))
	first, err := pr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if first.Samples[0] != 0x1000 {
		t.Errorf("Expected first sample 0x1000, got 0x%X", first.Samples[0])
	}
	third, err := pr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if third.Samples[0] != 0x3000 {
		t.Errorf("Expected 0x3000 after corrupt frame, got 0x%X", third.Samples[0])
	}
	if pr.Dropped != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", pr.Dropped)
	}
	if pr.Resyncs == 0 {
		t.Error("Expected at least one resync")
	}
}

func TestPacketWriterRejects(t *testing.T) {
	pw := NewPacketWriter(io.Discard)
	if err := pw.WritePacket(2, []uint32{1}); err != ErrBadBitsCode {
		t.Errorf("Expected ErrBadBitsCode, got %v", err)
	}
	big := make([]uint32, 20)
	for i := range big {
		big[i] = 0x80000000
	}
	if err := pw.WritePacket(3, big); err == nil {
		t.Error("Expected oversized packet to be rejected")
	}
}

func TestTokenStream(t *testing.T) {
	pipeR, pipeW := io.Pipe()
	ts := NewTokenStream(NewPacketReader(pipeR), 16)
	defer ts.Stop()

	go func() {
		pw := NewPacketWriter(pipeW)
		pw.WritePacket(0, []uint32{0xAA, 0xBB})
		pipeW.Close()
	}()

	var got []Token
	for tok := range ts.Tokens() {
		got = append(got, tok)
	}
	want := []Token{Data(0xAA), Data(0xBB), End()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Token stream mismatch (-want +got):\n%s", diff)
	}
	if ts.Err() != io.EOF {
		t.Errorf("Expected io.EOF, got %v", ts.Err())
	}
}
