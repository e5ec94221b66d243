package protocol

import "fmt"

// ControlEnd is the control token the ADC sends after the last sample of
// every packet.
const ControlEnd uint8 = 0x01

// Token is one item on a channel end: either a data byte or a control
// token. Control tokens are out of band and never mistaken for data.
type Token struct {
	Control bool
	Value   uint8
}

// Data returns a data token carrying b.
func Data(b uint8) Token {
	return Token{Value: b}
}

// End returns the packet boundary token.
func End() Token {
	return Token{Control: true, Value: ControlEnd}
}

// IsEnd reports whether t is the packet boundary token.
func (t Token) IsEnd() bool {
	return t.Control && t.Value == ControlEnd
}

func (t Token) String() string {
	if t.Control {
		return fmt.Sprintf("CT(0x%02x)", t.Value)
	}
	return fmt.Sprintf("0x%02x", t.Value)
}

// BytesPerSample returns the number of data tokens that carry one sample
// for the given bits-per-sample code (0, 1 or 3).
func BytesPerSample(bps uint8) int {
	return int(bps) + 1
}

// AppendSample appends the data tokens for word, most significant byte
// first.
func AppendSample(dst []Token, bps uint8, word uint32) []Token {
	n := BytesPerSample(bps)
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, Data(uint8(word>>(8*uint(i)))))
	}
	return dst
}

// AppendPacket appends the tokens for a whole packet: every sample followed
// by the boundary token.
func AppendPacket(dst []Token, bps uint8, words []uint32) []Token {
	for _, w := range words {
		dst = AppendSample(dst, bps, w)
	}
	return append(dst, End())
}
