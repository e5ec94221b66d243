package protocol

import (
	"sync"
)

// TokenStream turns framed packets read from a byte stream back into the
// token sequence the ADC would have sent on chip, so that a remote ADC can
// be consumed exactly like a local channel end.
type TokenStream struct {
	tokens chan Token
	done   chan struct{}
	stop   sync.Once

	mu  sync.Mutex
	err error
}

// NewTokenStream starts decoding packets from pr. capacity bounds the number
// of tokens buffered ahead of the consumer.
func NewTokenStream(pr *PacketReader, capacity int) *TokenStream {
	ts := &TokenStream{
		tokens: make(chan Token, capacity),
		done:   make(chan struct{}),
	}
	go ts.run(pr)
	return ts
}

func (ts *TokenStream) run(pr *PacketReader) {
	defer close(ts.tokens)
	var toks []Token
	for {
		p, err := pr.ReadPacket()
		if err != nil {
			ts.mu.Lock()
			ts.err = err
			ts.mu.Unlock()
			return
		}
		toks = AppendPacket(toks[:0], p.BPS, p.Samples)
		for _, t := range toks {
			select {
			case ts.tokens <- t:
			case <-ts.done:
				return
			}
		}
	}
}

// Tokens returns the receive side. It is closed when the underlying stream
// fails or Stop is called.
func (ts *TokenStream) Tokens() <-chan Token {
	return ts.tokens
}

// Err returns the error that ended the stream, if any.
func (ts *TokenStream) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.err
}

// Stop stops delivering tokens. The decoding goroutine exits once its
// pending read returns, which usually means closing the underlying reader.
func (ts *TokenStream) Stop() {
	ts.stop.Do(func() { close(ts.done) })
}
