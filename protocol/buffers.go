package protocol

// InputBuffer is a window over received bytes that a parser consumes from
// the front.
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects an outgoing frame. Length and CRC are patched in
// after the payload is known, hence Update and DataSince.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// FrameBuffer is an OutputBuffer holding at most one frame.
type FrameBuffer struct {
	buf [MessageLengthMax]byte
	n   int
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Output appends data. Bytes past MessageLengthMax are dropped; callers
// check CurPosition before finishing a frame.
func (f *FrameBuffer) Output(data []byte) {
	f.n += copy(f.buf[f.n:], data)
}

func (f *FrameBuffer) CurPosition() int { return f.n }

func (f *FrameBuffer) Update(pos int, val byte) {
	if pos >= 0 && pos < f.n {
		f.buf[pos] = val
	}
}

func (f *FrameBuffer) DataSince(pos int) []byte {
	if pos < 0 || pos > f.n {
		return nil
	}
	return f.buf[pos:f.n]
}

// Bytes returns the frame built so far. It aliases the buffer until the
// next Reset.
func (f *FrameBuffer) Bytes() []byte {
	return f.buf[:f.n]
}

func (f *FrameBuffer) Reset() {
	f.n = 0
}

// ByteRing is a fixed capacity FIFO of received bytes. It implements
// InputBuffer.
type ByteRing struct {
	buf   []byte
	head  int
	count int
}

func NewByteRing(capacity int) *ByteRing {
	return &ByteRing{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written.
func (r *ByteRing) Write(data []byte) int {
	n := min(len(data), r.Free())
	tail := (r.head + r.count) % len(r.buf)
	c := copy(r.buf[tail:], data[:n])
	copy(r.buf, data[c:n])
	r.count += n
	return n
}

func (r *ByteRing) Available() int { return r.count }

func (r *ByteRing) Free() int { return len(r.buf) - r.count }

// Data returns the buffered bytes in order. When the contents wrap around
// the end of the ring they are copied.
func (r *ByteRing) Data() []byte {
	if r.head+r.count <= len(r.buf) {
		return r.buf[r.head : r.head+r.count]
	}
	out := make([]byte, r.count)
	c := copy(out, r.buf[r.head:])
	copy(out[c:], r.buf)
	return out
}

// Pop discards the oldest n bytes.
func (r *ByteRing) Pop(n int) {
	n = min(n, r.count)
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	if r.count == 0 {
		r.head = 0
	}
}
