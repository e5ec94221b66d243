// Package link carries ADC packets between a tile and a host over a serial
// port.
package link

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"analogtile/core"
	"analogtile/host/serial"
	"analogtile/protocol"
)

// Link is the host end of a packet stream from a tile.
type Link struct {
	port   serial.Port
	reader *protocol.PacketReader
	logger *zap.SugaredLogger

	stream *protocol.TokenStream
}

// Connect opens device and returns a link reading from it.
func Connect(device string, logger *zap.SugaredLogger) (*Link, error) {
	return ConnectWithConfig(serial.DefaultConfig(device), logger)
}

// ConnectWithConfig opens a port with a custom serial config.
func ConnectWithConfig(cfg *serial.Config, logger *zap.SugaredLogger) (*Link, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infow("connected", "device", cfg.Device, "baud", cfg.Baud)
	return New(port, logger), nil
}

// New returns a link over an open port.
func New(port serial.Port, logger *zap.SugaredLogger) *Link {
	return &Link{
		port:   port,
		reader: protocol.NewPacketReader(port),
		logger: logger,
	}
}

// ReadPacket blocks until the next intact packet arrives.
func (l *Link) ReadPacket() (protocol.Packet, error) {
	return l.reader.ReadPacket()
}

// Tokens re-expands the packets into a token stream, so a core.Reader can
// consume a remote tile the way it consumes a local channel end. Once
// called, use the stream rather than ReadPacket.
func (l *Link) Tokens(capacity int) *protocol.TokenStream {
	if l.stream == nil {
		l.stream = protocol.NewTokenStream(l.reader, capacity)
	}
	return l.stream
}

// Stats returns the number of packets lost to sequence gaps and the
// number of times framing was lost.
func (l *Link) Stats() (dropped, resyncs int) {
	return l.reader.Dropped, l.reader.Resyncs
}

// Close closes the port.
func (l *Link) Close() error {
	var err error
	if l.stream != nil {
		l.stream.Stop()
	}
	err = multierr.Append(err, l.port.Close())
	dropped, resyncs := l.Stats()
	l.logger.Debugw("link closed", "dropped", dropped, "resyncs", resyncs)
	return err
}

// Forward reads n packets from adc and writes each as a frame to w,
// triggering one packet at a time. n <= 0 forwards until ctx is done.
func Forward(ctx context.Context, adc *core.ADC, cfg *core.ADCConfig, w io.Writer, n int) error {
	pw := protocol.NewPacketWriter(w)
	buf := make([]core.Sample, cfg.SamplesPerPacket)
	words := make([]uint32, cfg.SamplesPerPacket)
	for i := 0; n <= 0 || i < n; i++ {
		if err := adc.TriggerPacket(cfg); err != nil {
			return err
		}
		if err := adc.ReadPacket(ctx, cfg, buf); err != nil {
			if ctx.Err() != nil && n <= 0 {
				return nil
			}
			return errors.Wrapf(err, "reading packet %d", i)
		}
		for j, s := range buf {
			words[j] = uint32(s)
		}
		if err := pw.WritePacket(uint8(cfg.BitsPerSample), words); err != nil {
			return errors.Wrapf(err, "writing packet %d", i)
		}
	}
	return nil
}

// FormatPacket renders a packet as one line of millivolt readings, labelled
// with the input each sample came from. first is the index, in conversion
// order, of the packet's first sample.
func FormatPacket(p protocol.Packet, chans []int, first int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "seq=%2d", p.Seq)
	bps := core.BitsPerSample(p.BPS)
	for i, w := range p.Samples {
		s := core.Sample(w)
		ch := i
		if len(chans) > 0 {
			ch = chans[(first+i)%len(chans)]
		}
		fmt.Fprintf(&sb, " ch%d=%dmV", ch, s.Millivolts(bps))
	}
	return sb.String()
}
