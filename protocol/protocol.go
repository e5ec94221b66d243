// Package protocol implements the wire contract between the analog tile and
// the tile that consumes its ADC samples.
//
// On chip the ADC pushes data tokens and control tokens over a channel end
// (see Token). Off chip, whole packets are carried as framed messages over a
// byte stream (see PacketWriter and PacketReader).
package protocol

// Frame layout constants.
//
//	[len][seq][vlq bps][vlq sample]...[crc hi][crc lo][sync]
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	MessageSeqMask = 0x0F
)
