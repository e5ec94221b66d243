// Package main is at-host, the host side tool for analog tile packet
// streams.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"analogtile/config"
	"analogtile/core"
	"analogtile/host/link"
	"analogtile/host/serial"
	"analogtile/sim"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagDevice = "device"
	flagBaud   = "baud"
	flagCount  = "count"
)

func main() {
	app := &cli.App{
		Name:  "at-host",
		Usage: "read ADC packets from an analog tile",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "JSON tile configuration",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "stream",
				Usage: "print packets arriving on a serial port",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDevice,
						Usage: "serial device, overrides the configuration",
					},
					&cli.IntFlag{
						Name:  flagBaud,
						Usage: "baud rate, overrides the configuration",
					},
					&cli.IntFlag{
						Name:  flagCount,
						Usage: "stop after this many packets (0 = run until interrupted)",
					},
				},
				Action: streamAction,
			},
			{
				Name:  "simulate",
				Usage: "run a simulated tile and print the packets it sends",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagCount,
						Value: 10,
						Usage: "number of packets",
					},
				},
				Action: simulateAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !c.Bool(flagDebug) {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func loadConfig(c *cli.Context) (*config.TileConfig, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading configuration")
	}
	return config.LoadConfig(data)
}

func streamAction(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	tc, err := loadConfig(c)
	if err != nil {
		return err
	}
	adcCfg, err := tc.ADCConfig()
	if err != nil {
		return err
	}

	scfg := serial.DefaultConfig(tc.Serial.Device)
	scfg.Baud = tc.Serial.Baud
	if d := c.String(flagDevice); d != "" {
		scfg.Device = d
	}
	if b := c.Int(flagBaud); b != 0 {
		scfg.Baud = b
	}
	if scfg.Device == "" {
		return errors.New("no serial device given")
	}
	l, err := link.ConnectWithConfig(scfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := l.Close(); err != nil {
			logger.Warnw("closing link", "error", err)
		}
	}()
	return printPackets(ctx, l, adcCfg, c.Int(flagCount), os.Stdout)
}

func simulateAction(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()
	tc, err := loadConfig(c)
	if err != nil {
		return err
	}
	count := c.Int(flagCount)
	ctx, cancel := context.WithTimeout(c.Context, time.Duration(count+1)*time.Second)
	defer cancel()
	return runSimulation(ctx, tc, count, os.Stdout, logger)
}

// runSimulation drives a simulated tile configured by tc and prints count
// packets to out, as they arrive over an in-memory serial link. count <= 0
// runs until ctx is done.
func runSimulation(ctx context.Context, tc *config.TileConfig, count int, out io.Writer, logger *zap.SugaredLogger) error {
	adcCfg, err := tc.ADCConfig()
	if err != nil {
		return err
	}

	st := sim.New(sim.WithLogger(logger.Named("sim")))
	defer st.Close()
	tile, err := core.Open(st, core.WithLogger(logger.Named("tile")))
	if err != nil {
		return err
	}
	defer tile.Close()
	if err := tc.ApplyPower(tile); err != nil {
		return err
	}

	ch := core.NewChanend(64)
	defer ch.Close()
	if err := tile.ADC.Enable(ch, st.TriggerPin(), &adcCfg); err != nil {
		return err
	}

	tileEnd, hostEnd := serial.Pipe()
	l := link.New(hostEnd, logger.Named("link"))
	defer l.Close()
	errc := make(chan error, 1)
	go func() {
		err := link.Forward(ctx, tile.ADC, &adcCfg, tileEnd, count)
		// EOF for the reader
		tileEnd.Close()
		errc <- err
	}()

	perr := printPackets(ctx, l, adcCfg, count, out)
	if perr != nil {
		// unblocks a Forward stuck writing
		l.Close()
	}
	if err := <-errc; err != nil {
		core.DumpEvents(logger)
		return err
	}
	return perr
}

func printPackets(ctx context.Context, l *link.Link, cfg core.ADCConfig, count int, out io.Writer) error {
	chans := cfg.EnabledChannels()
	first := 0
	for i := 0; count <= 0 || i < count; i++ {
		p, err := l.ReadPacket()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, link.FormatPacket(p, chans, first))
		first += len(p.Samples)
	}
	return nil
}
