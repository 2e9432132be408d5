// Command acoustic-modem drives the acoustic network stack: PHY self-test
// and raw send/receive, MAC-level send/receive, and the IP/ICMP bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cwsl/acoustic-netstack/internal/audio"
	"github.com/cwsl/acoustic-netstack/internal/config"
	"github.com/cwsl/acoustic-netstack/internal/mac"
	"github.com/cwsl/acoustic-netstack/internal/metrics"
	"github.com/cwsl/acoustic-netstack/internal/monitor"
	"github.com/cwsl/acoustic-netstack/internal/nat"
	"github.com/cwsl/acoustic-netstack/internal/netcard"
	"github.com/cwsl/acoustic-netstack/internal/phy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "selftest":
		err = runSelftest(args)
	case "phy-send":
		err = runPHYSend(args)
	case "phy-recv":
		err = runPHYRecv(args)
	case "mac-send":
		err = runMACSend(args)
	case "mac-recv":
		err = runMACRecv(args)
	case "bridge":
		err = runBridge(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("acoustic-modem: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: acoustic-modem <selftest|phy-send|phy-recv|mac-send|mac-recv|bridge> [flags]")
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func signalCtx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

// sharedMetrics is process-global: promauto registers each collector with
// the default registry once, so every caller in this binary must reuse the
// same Metrics instance rather than constructing a fresh one.
var sharedMetrics = sync.OnceValue(metrics.New)

func codecFromConfig(cfg *config.Config) *phy.Codec {
	return &phy.Codec{
		EnableECC:                    cfg.EnableECC,
		DataBitsLength:               cfg.DataBitsLength,
		MaxFrameDataLengthNoEncoding: cfg.MaxFrameDataLengthNoEncoding,
		FrameLengthLengthNoEncoding:  cfg.FrameLengthLengthNoEncoding,
		FrameCRCLengthNoEncoding:     cfg.FrameCRCLengthNoEncoding,
		Metrics:                      sharedMetrics(),
	}
}

// runSelftest exercises a full encode -> loopback -> decode cycle with no
// audio hardware, confirming the PHY pipeline is internally consistent.
func runSelftest(args []string) error {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	codec := codecFromConfig(cfg)

	mod := phy.NewModulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)
	demod := phy.NewDemodulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)

	// Size the test payload to fit in a single phy-frame so the selftest
	// only has to wait for one decoded frame.
	capBytes := codec.DataCapacityBits() / 8
	payload := []byte("acoustic-modem selftest payload")
	if len(payload) > capBytes {
		payload = payload[:capBytes]
	}
	bitLen := len(payload) * 8
	wave, err := mod.EncodeBytes(payload, bitLen)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go demod.Run(ctx)

	loop := audio.NewLoopbackDevice()
	defer loop.Close()
	samples, err := loop.Start(ctx)
	if err != nil {
		return err
	}
	go func() {
		for chunk := range samples {
			demod.Samples <- chunk
		}
	}()
	if err := loop.Play(wave); err != nil {
		return err
	}

	select {
	case frame := <-demod.Frames:
		if string(frame.Data) != string(payload) {
			return fmt.Errorf("selftest FAILED: payload mismatch")
		}
		fmt.Println("selftest PASSED")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("selftest FAILED: no frame decoded")
	}
}

func runPHYSend(args []string) error {
	fs := flag.NewFlagSet("phy-send", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	inFile := fs.String("in", "", "file containing bytes to send")
	fs.Parse(args)

	if *inFile == "" {
		return fmt.Errorf("phy-send: -in is required")
	}
	data, err := os.ReadFile(*inFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	codec := codecFromConfig(cfg)
	mod := phy.NewModulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)

	wave, err := mod.EncodeBytes(data, len(data)*8)
	if err != nil {
		return err
	}

	dev, err := audio.NewPortAudioDevice(cfg.SampleRate)
	if err != nil {
		return err
	}
	defer dev.Close()
	return dev.Play(wave)
}

func runPHYRecv(args []string) error {
	fs := flag.NewFlagSet("phy-recv", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	outFile := fs.String("out", "", "file to write decoded bytes to")
	fs.Parse(args)

	if *outFile == "" {
		return fmt.Errorf("phy-recv: -out is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	codec := codecFromConfig(cfg)
	demod := phy.NewDemodulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)

	ctx, cancel := signalCtx()
	defer cancel()
	go demod.Run(ctx)

	dev, err := audio.NewPortAudioDevice(cfg.SampleRate)
	if err != nil {
		return err
	}
	defer dev.Close()

	samples, err := dev.Start(ctx)
	if err != nil {
		return err
	}
	go func() {
		for chunk := range samples {
			demod.Samples <- chunk
		}
	}()

	select {
	case frame := <-demod.Frames:
		return os.WriteFile(*outFile, frame.Data, 0o644)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanoutCapture forwards each captured chunk to both the demodulator (which
// must see every sample) and the carrier-sense probe (which only cares about
// recency, so a full queue there just drops the chunk rather than slowing
// down demodulation).
func fanoutCapture(ctx context.Context, samples <-chan []float32, ctrl *mac.Controller) {
	for chunk := range samples {
		select {
		case ctrl.Demod.Samples <- chunk:
		case <-ctx.Done():
			return
		}
		select {
		case ctrl.Sense.Samples <- chunk:
		default:
		}
	}
}

func buildController(cfg *config.Config) (*mac.Controller, *audio.PortAudioDevice, error) {
	codec := codecFromConfig(cfg)
	mod := phy.NewModulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)
	demod := phy.NewDemodulator(cfg.SampleRate, cfg.CarrierFreq, cfg.RedundentTimes, cfg.EnableOFDM, codec)

	dev, err := audio.NewPortAudioDevice(cfg.SampleRate)
	if err != nil {
		return nil, nil, err
	}

	senseSamples := make(chan []float32, 64)
	sense := phy.NewCarrierSense(senseSamples, cfg.LowestPowerLimit)

	ctrl := mac.NewController(cfg.MACAddr, mod, demod, sense, dev)
	ctrl.Metrics = sharedMetrics()
	return ctrl, dev, nil
}

func runMACSend(args []string) error {
	fs := flag.NewFlagSet("mac-send", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	inFile := fs.String("in", "", "file containing bytes to send")
	dst := fs.Int("dst", 0, "destination node address (0-15)")
	fs.Parse(args)

	if *inFile == "" {
		return fmt.Errorf("mac-send: -in is required")
	}
	data, err := os.ReadFile(*inFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctrl, dev, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signalCtx()
	defer cancel()

	samples, err := dev.Start(ctx)
	if err != nil {
		return err
	}
	go fanoutCapture(ctx, samples, ctrl)
	go ctrl.Demod.Run(ctx)
	go ctrl.Run(ctx)

	card := netcard.New(ctrl)
	ok := card.Send(ctx, byte(*dst), data)
	if !ok {
		return fmt.Errorf("mac-send: link failure")
	}
	fmt.Println("mac-send: delivered")
	return nil
}

func runMACRecv(args []string) error {
	fs := flag.NewFlagSet("mac-recv", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	outFile := fs.String("out", "", "file to write reassembled payload to")
	fs.Parse(args)

	if *outFile == "" {
		return fmt.Errorf("mac-recv: -out is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ctrl, dev, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signalCtx()
	defer cancel()

	samples, err := dev.Start(ctx)
	if err != nil {
		return err
	}
	go fanoutCapture(ctx, samples, ctrl)
	go ctrl.Demod.Run(ctx)
	go ctrl.Run(ctx)

	card := netcard.New(ctrl)
	payload, ok := card.RecvNext(ctx)
	if !ok {
		return fmt.Errorf("mac-recv: cancelled before a payload arrived")
	}
	return os.WriteFile(*outFile, payload, 0o644)
}

func runBridge(args []string) error {
	fs := flag.NewFlagSet("bridge", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Bridge.Enabled {
		return fmt.Errorf("bridge: bridge.enabled is false in config")
	}

	ctrl, dev, err := buildController(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signalCtx()
	defer cancel()

	samples, err := dev.Start(ctx)
	if err != nil {
		return err
	}
	go fanoutCapture(ctx, samples, ctrl)
	go ctrl.Demod.Run(ctx)
	go ctrl.Run(ctx)

	card := netcard.New(ctrl)
	bridge := nat.NewBridge(card, cfg.IPAddr, cfg.IPMask, cfg.Bridge.Interfaces)
	bridge.Metrics = sharedMetrics()

	if cfg.Monitor.Enabled {
		mon := monitor.New(cfg.Monitor.PrometheusPath)
		go func() {
			if err := mon.ListenAndServe(ctx, cfg.Monitor.ListenAddr); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() { errCh <- bridge.RunOutbound(ctx) }()
	go func() { errCh <- bridge.RunInbound(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
