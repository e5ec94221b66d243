package core

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"analogtile/protocol"
)

// ErrChannelClosed is returned when a channel end is closed while a read or
// send is outstanding.
var ErrChannelClosed = errors.New("channel end closed")

// TokenSource is the receive side of a channel end. Reader only needs this,
// so a remote protocol.TokenStream can stand in for a local Chanend.
type TokenSource interface {
	Tokens() <-chan protocol.Token
}

// Chanend is the in-process stand-in for a hardware channel end. The ADC is
// told where to send samples by writing the channel end ID into its channel
// registers, and the producer resolves the ID with ChanendByID.
type Chanend struct {
	id     uint32
	tokens chan protocol.Token
	closed chan struct{}
	once   sync.Once
}

var (
	chanendMu     sync.Mutex
	chanends      = make(map[uint32]*Chanend)
	nextChanendID uint32
)

// NewChanend allocates a channel end whose receive side buffers up to
// capacity tokens.
func NewChanend(capacity int) *Chanend {
	chanendMu.Lock()
	defer chanendMu.Unlock()
	nextChanendID++
	c := &Chanend{
		id:     nextChanendID,
		tokens: make(chan protocol.Token, capacity),
		closed: make(chan struct{}),
	}
	chanends[c.id] = c
	return c
}

// ChanendByID resolves an ID written into a peripheral register.
func ChanendByID(id uint32) (*Chanend, bool) {
	chanendMu.Lock()
	defer chanendMu.Unlock()
	c, ok := chanends[id]
	return c, ok
}

func (c *Chanend) ID() uint32 {
	return c.id
}

// Tokens returns the receive side.
func (c *Chanend) Tokens() <-chan protocol.Token {
	return c.tokens
}

// Send blocks until tok is accepted, ctx is done or the channel end closes.
func (c *Chanend) Send(ctx context.Context, tok protocol.Token) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.tokens <- tok:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the ID. Tokens already buffered stay readable; the receive
// channel itself is never closed so that a late producer cannot panic.
func (c *Chanend) Close() {
	c.once.Do(func() {
		close(c.closed)
		chanendMu.Lock()
		delete(chanends, c.id)
		chanendMu.Unlock()
	})
}
