package core

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"analogtile/protocol"
)

var (
	ErrShortBuffer     = errors.New("packet buffer shorter than samples per packet")
	ErrPartialPacket   = errors.New("reader is part way through a packet")
	ErrSplitSample     = errors.New("control token inside a sample")
	ErrMissingBoundary = errors.New("packet not terminated by a boundary token")
)

// ReaderState is the consumer side state of a channel.
type ReaderState uint32

const (
	// Idle: no samples are expected.
	Idle ReaderState = iota
	// AwaitingSamples: triggers are outstanding, nothing of the current
	// packet has been read.
	AwaitingSamples
	// Draining: part of a packet has been read.
	Draining
)

func (s ReaderState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingSamples:
		return "AWAITING_SAMPLES"
	case Draining:
		return "DRAINING"
	}
	return "UNKNOWN"
}

// Reader reassembles samples and packets from the token stream of one
// channel end. Read and TryRead absorb boundary tokens, so callers see only
// samples. A Reader has a single consumer; it is not safe to read from two
// goroutines at once.
type Reader struct {
	src TokenSource

	// triggers outstanding, maintained by the ADC handle
	pending atomic.Int64
	// samples delivered in the current packet
	inPacket atomic.Int32
	// samples delivered since the reader was created
	delivered atomic.Uint64
}

// NewReader returns a reader over src.
func NewReader(src TokenSource) *Reader {
	return &Reader{src: src}
}

// State reports where the reader is in the packet cycle.
func (r *Reader) State() ReaderState {
	if r.inPacket.Load() > 0 {
		return Draining
	}
	if r.pending.Load() > 0 {
		return AwaitingSamples
	}
	return Idle
}

// Delivered returns the number of samples read so far.
func (r *Reader) Delivered() uint64 {
	return r.delivered.Load()
}

// Ready returns the channel to wait on in a select. A token received from
// it must be handed to ReadSelected.
func (r *Reader) Ready() <-chan protocol.Token {
	return r.src.Tokens()
}

func (r *Reader) noteTrigger() int64 {
	return r.pending.Add(1)
}

// Read blocks until one sample has been delivered or ctx is done.
func (r *Reader) Read(ctx context.Context, cfg *ADCConfig) (Sample, error) {
	for {
		var tok protocol.Token
		var ok bool
		select {
		case tok, ok = <-r.src.Tokens():
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if !ok {
			return 0, ErrChannelClosed
		}
		s, got, err := r.ReadSelected(ctx, tok, cfg)
		if err != nil || got {
			return s, err
		}
	}
}

// TryRead delivers one sample if its first data token is already waiting.
// Leading control tokens are discarded. Once a sample has started it is read
// to completion.
func (r *Reader) TryRead(cfg *ADCConfig) (Sample, bool, error) {
	for {
		var tok protocol.Token
		var ok bool
		select {
		case tok, ok = <-r.src.Tokens():
		default:
			return 0, false, nil
		}
		if !ok {
			return 0, false, ErrChannelClosed
		}
		s, got, err := r.ReadSelected(context.Background(), tok, cfg)
		if err != nil || got {
			return s, got, err
		}
	}
}

// ReadSelected completes a read whose first token was taken from Ready by
// the caller's own select. It returns false if first was a control token,
// which is discarded.
func (r *Reader) ReadSelected(ctx context.Context, first protocol.Token, cfg *ADCConfig) (Sample, bool, error) {
	if first.Control {
		// A boundary is normally consumed right after the last sample of
		// its packet, so this one is out of step; drop it and realign.
		RecordEvent(EvtStrayControl, uint32(first.Value), uint32(r.inPacket.Load()))
		r.inPacket.Store(0)
		return 0, false, nil
	}
	word := uint32(first.Value)
	for i := 1; i < protocol.BytesPerSample(uint8(cfg.BitsPerSample)); i++ {
		tok, err := r.next(ctx)
		if err != nil {
			return 0, false, errors.Wrap(err, "reading sample")
		}
		if tok.Control {
			return 0, false, errors.Wrapf(ErrSplitSample, "token %v after %d bytes", tok, i)
		}
		word = word<<8 | uint32(tok.Value)
	}
	s := Sample(word)
	for {
		p := r.pending.Load()
		if p <= 0 || r.pending.CompareAndSwap(p, p-1) {
			break
		}
	}
	r.delivered.Add(1)
	n := r.inPacket.Add(1)
	RecordEvent(EvtSample, word, uint32(n))

	if uint(n) >= cfg.SamplesPerPacket {
		tok, err := r.next(ctx)
		if err != nil {
			return s, true, errors.Wrap(err, "reading packet boundary")
		}
		r.inPacket.Store(0)
		if !tok.IsEnd() {
			return s, true, errors.Wrapf(ErrMissingBoundary, "got %v", tok)
		}
		RecordEvent(EvtBoundary, uint32(n), 0)
	}
	return s, true, nil
}

// ReadPacket fills buf[:cfg.SamplesPerPacket] with one packet and consumes
// its boundary token. If an earlier call gave up after the last sample but
// before the boundary, that boundary is consumed first. If it gave up part
// way through the samples, ReadPacket returns ErrPartialPacket and Read
// delivers the rest of that packet.
func (r *Reader) ReadPacket(ctx context.Context, cfg *ADCConfig, buf []Sample) error {
	if err := r.checkPacket(cfg, buf); err != nil {
		return err
	}
	if _, err := r.realign(ctx, true); err != nil {
		return err
	}
	for i := uint(0); i < cfg.SamplesPerPacket; i++ {
		s, err := r.Read(ctx, cfg)
		if err != nil {
			return err
		}
		buf[i] = s
	}
	return nil
}

// TryReadPacket reads a packet if its first sample is already waiting.
func (r *Reader) TryReadPacket(cfg *ADCConfig, buf []Sample) (bool, error) {
	if err := r.checkPacket(cfg, buf); err != nil {
		return false, err
	}
	if ok, err := r.realign(context.Background(), false); err != nil || !ok {
		return false, err
	}
	s, ok, err := r.TryRead(cfg)
	if err != nil || !ok {
		return false, err
	}
	buf[0] = s
	for i := uint(1); i < cfg.SamplesPerPacket; i++ {
		s, err := r.Read(context.Background(), cfg)
		if err != nil {
			return false, err
		}
		buf[i] = s
	}
	return true, nil
}

func (r *Reader) checkPacket(cfg *ADCConfig, buf []Sample) error {
	if uint(len(buf)) < cfg.SamplesPerPacket {
		return errors.Wrapf(ErrShortBuffer, "len %d, need %d", len(buf), cfg.SamplesPerPacket)
	}
	if n := r.inPacket.Load(); n != 0 && uint(n) < cfg.SamplesPerPacket {
		return errors.Wrapf(ErrPartialPacket, "%d samples already read", n)
	}
	return nil
}

// realign consumes the boundary of a packet whose samples were all read
// before the reader gave up waiting for it. Without wait it reports false
// when the boundary has not arrived yet.
func (r *Reader) realign(ctx context.Context, wait bool) (bool, error) {
	n := r.inPacket.Load()
	if n == 0 {
		return true, nil
	}
	var tok protocol.Token
	if wait {
		t, err := r.next(ctx)
		if err != nil {
			return false, errors.Wrap(err, "reading packet boundary")
		}
		tok = t
	} else {
		select {
		case t, ok := <-r.src.Tokens():
			if !ok {
				return false, ErrChannelClosed
			}
			tok = t
		default:
			return false, nil
		}
	}
	r.inPacket.Store(0)
	if !tok.IsEnd() {
		return false, errors.Wrapf(ErrMissingBoundary, "got %v", tok)
	}
	RecordEvent(EvtBoundary, uint32(n), 0)
	return true, nil
}

func (r *Reader) next(ctx context.Context) (protocol.Token, error) {
	select {
	case tok, ok := <-r.src.Tokens():
		if !ok {
			return protocol.Token{}, ErrChannelClosed
		}
		return tok, nil
	case <-ctx.Done():
		return protocol.Token{}, ctx.Err()
	}
}
