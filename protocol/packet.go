package protocol

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPacketTooLarge = errors.New("packet does not fit in one frame")
	ErrBadBitsCode    = errors.New("invalid bits-per-sample code in frame")
)

// Packet is one ADC packet as carried in a frame.
type Packet struct {
	Seq     uint8
	BPS     uint8
	Samples []uint32
}

// PacketWriter frames packets onto a byte stream.
type PacketWriter struct {
	mu  sync.Mutex
	w   io.Writer
	seq uint8
	out *FrameBuffer
}

// NewPacketWriter returns a writer that frames packets onto w.
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w, out: NewFrameBuffer()}
}

// WritePacket encodes one packet as a single frame and writes it.
func (pw *PacketWriter) WritePacket(bps uint8, samples []uint32) error {
	if bps != 0 && bps != 1 && bps != 3 {
		return ErrBadBitsCode
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.out.Reset()
	seq := MessageDest | (pw.seq & MessageSeqMask)
	pw.out.Output([]byte{0, seq})
	EncodeVLQUint(pw.out, uint32(bps))
	for _, s := range samples {
		EncodeVLQUint(pw.out, s)
	}
	msgLen := pw.out.CurPosition() + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return errors.Wrapf(ErrPacketTooLarge, "%d samples", len(samples))
	}
	pw.out.Update(MessagePositionLen, uint8(msgLen))

	crc := CRC16(pw.out.DataSince(0))
	pw.out.Output([]byte{
		uint8((crc & 0xFF00) >> 8),
		uint8(crc & 0xFF),
		MessageValueSync,
	})

	if _, err := pw.w.Write(pw.out.Bytes()); err != nil {
		return errors.Wrap(err, "writing packet frame")
	}
	pw.seq++
	return nil
}

// PacketReader decodes frames from a byte stream. Corrupt input is skipped
// by hunting for the next sync byte; frames whose sequence number jumps are
// still delivered and counted in Dropped.
type PacketReader struct {
	r       io.Reader
	in      *ByteRing
	buf     []byte
	synced  bool
	nextSeq int
	ready   []Packet

	// Dropped counts frames lost between two received frames.
	Dropped int
	// Resyncs counts how often the reader lost framing.
	Resyncs int
}

// NewPacketReader returns a reader decoding frames from r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{
		r:       r,
		in:      NewByteRing(4 * MessageLengthMax),
		buf:     make([]byte, MessageLengthMax),
		synced:  true,
		nextSeq: -1,
	}
}

// ReadPacket blocks until a complete, valid frame has been decoded.
func (pr *PacketReader) ReadPacket() (Packet, error) {
	for len(pr.ready) == 0 {
		n, err := pr.r.Read(pr.buf[:min(len(pr.buf), pr.in.Free())])
		if n > 0 {
			pr.in.Write(pr.buf[:n])
			pr.Receive(pr.in)
			continue
		}
		if err != nil {
			return Packet{}, err
		}
	}
	p := pr.ready[0]
	pr.ready = pr.ready[1:]
	return p, nil
}

// Receive parses every complete frame in input and queues the packets.
// Bytes of an incomplete trailing frame are left in input.
func (pr *PacketReader) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !pr.synced {
			syncPos := -1
			for i, b := range data {
				if b == MessageValueSync {
					syncPos = i
					break
				}
			}
			if syncPos < 0 {
				data = nil
				break
			}
			data = data[syncPos+1:]
			pr.synced = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			pr.desync()
			continue
		}
		seq := data[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			pr.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			pr.desync()
			continue
		}
		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			pr.desync()
			continue
		}

		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]
		p, err := parseFrame(frame)
		if err != nil {
			pr.Resyncs++
			continue
		}
		p.Seq = seq & MessageSeqMask
		if pr.nextSeq >= 0 && int(p.Seq) != pr.nextSeq {
			pr.Dropped += (int(p.Seq) - pr.nextSeq) & MessageSeqMask
		}
		pr.nextSeq = int(p.Seq+1) & MessageSeqMask
		pr.ready = append(pr.ready, p)
	}

	consumed := input.Available() - len(data)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (pr *PacketReader) desync() {
	pr.synced = false
	pr.Resyncs++
}

func parseFrame(frame []byte) (Packet, error) {
	bps, err := DecodeVLQUint(&frame)
	if err != nil {
		return Packet{}, err
	}
	if bps != 0 && bps != 1 && bps != 3 {
		return Packet{}, ErrBadBitsCode
	}
	p := Packet{BPS: uint8(bps)}
	for len(frame) > 0 {
		s, err := DecodeVLQUint(&frame)
		if err != nil {
			return Packet{}, err
		}
		p.Samples = append(p.Samples, s)
	}
	return p, nil
}
