// Command doatrack runs the two-microphone DOA pipeline against live
// capture, a UDP PCM stream, or a raw PCM file, printing and optionally
// recording the stabilized bearings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/doatrack/pkg/audio"
	"github.com/NicolasHaas/doatrack/pkg/datastore"
	"github.com/NicolasHaas/doatrack/pkg/doa"
	"github.com/NicolasHaas/doatrack/pkg/logging"
	"github.com/NicolasHaas/doatrack/pkg/model"
	"github.com/NicolasHaas/doatrack/pkg/stream"
	"github.com/NicolasHaas/doatrack/pkg/version"
)

func main() {
	s := LoadSettings(os.Getenv("DOATRACK_CONFIG"))

	flag.StringVar(&s.Device, "device", s.Device, "Capture device name (empty = system default)")
	flag.Float64Var(&s.MicDistance, "distance", s.MicDistance, "Microphone spacing in meters")
	flag.IntVar(&s.OutputIntervalMS, "interval", s.OutputIntervalMS, "Minimum ms between bearing outputs (0 = every frame)")
	flag.Float64Var(&s.MinAngleChange, "min-change", s.MinAngleChange, "Minimum bearing change in degrees to emit (0 = disabled)")
	flag.Float64Var(&s.VADThreshold, "vad-threshold", s.VADThreshold, "RMS threshold for voice gating (live capture)")
	flag.StringVar(&s.RecordDB, "record", s.RecordDB, "SQLite file to record bearings into (empty = no recording)")
	flag.StringVar(&s.ListenAddr, "listen", s.ListenAddr, "UDP bind address for PCM ingest (e.g. :4950)")

	inFile := flag.String("in", "", "Raw 16 kHz s16le stereo PCM file to feed instead of capturing")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println("doatrack", version.Full())
		return
	}
	if *listDevices {
		devices, err := audio.ListInputDevices()
		if err != nil {
			slog.Error("list devices", "err", err)
			os.Exit(1)
		}
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %s (%d in)\n", marker, d.Name, d.MaxInputs)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, *inFile); err != nil {
		slog.Error("doatrack", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s *Settings, inFile string) error {
	var store *datastore.Store
	if s.RecordDB != "" {
		var err error
		store, err = datastore.Open(s.RecordDB)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	// Recording happens off the worker goroutine: pipeline callbacks must
	// stay short, so bearings go through a drop-on-full channel.
	results := make(chan float64, 100)
	go func() {
		for angle := range results {
			fmt.Printf("bearing %6.1f°\n", angle)
			if store == nil {
				continue
			}
			b := model.Bearing{Angle: angle, Source: model.SourceTracker}
			if err := store.RecordBearing(&b); err != nil {
				slog.Warn("record bearing", "err", err)
			}
		}
	}()
	defer close(results)

	cfg := doa.DefaultConfig()
	cfg.MicDistance = s.MicDistance
	cfg.OutputInterval = time.Duration(s.OutputIntervalMS) * time.Millisecond
	cfg.MinAngleChange = s.MinAngleChange
	cfg.Monitor = func(angle float64) {
		slog.Debug("frame bearing", "angle", angle)
	}
	cfg.Result = func(angle float64) {
		select {
		case results <- angle:
		default:
			// Consumer fell behind; the next bearing supersedes this one.
		}
	}

	pipe, err := doa.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = pipe.Close() }()

	if err := pipe.Start(); err != nil {
		return err
	}
	slog.Info("pipeline started",
		"distance", s.MicDistance,
		"interval_ms", s.OutputIntervalMS,
		"min_change", s.MinAngleChange,
	)

	switch {
	case s.ListenAddr != "":
		return runListen(ctx, s, pipe)
	case inFile != "":
		return runFile(ctx, inFile, pipe)
	default:
		return runCapture(ctx, s, pipe)
	}
}

// runListen feeds the pipeline from a UDP PCM stream until interrupted.
func runListen(ctx context.Context, s *Settings, pipe *doa.Pipeline) error {
	// The sending device did its own voice detection; the gate stays open.
	pipe.SetVADDetect(true)

	l, err := stream.Listen(s.ListenAddr, pipe)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	<-ctx.Done()
	return nil
}

// runFile replays a raw PCM capture at real-time pace.
func runFile(ctx context.Context, path string, pipe *doa.Pipeline) error {
	f, err := os.Open(path) //nolint:gosec // path from operator flag
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	pipe.SetVADDetect(true)

	// One 2048-byte frame covers 32 ms of audio.
	ticker := time.NewTicker(32 * time.Millisecond)
	defer ticker.Stop()

	frame := make([]byte, doa.FrameBytes)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := io.ReadFull(f, frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Info("input file exhausted")
				return nil
			}
			return err
		}
		if err := pipe.Write(frame); err != nil {
			if errors.Is(err, doa.ErrQueueFull) {
				slog.Debug("frame dropped, queue full")
				continue
			}
			return err
		}
	}
}

// runCapture feeds the pipeline from the local stereo input device, gating
// writes with the RMS voice detector.
func runCapture(ctx context.Context, s *Settings, pipe *doa.Pipeline) error {
	audio.PreInitAudio()

	dev, err := audio.NewCaptureDevice(doa.SampleRate, doa.FrameBytes/4, s.Device)
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}
	defer func() { _ = dev.Close() }()

	vad := audio.NewVAD(s.VADThreshold, s.VADHoldFrames)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := dev.ReadFrame()
		if err != nil {
			return err
		}
		pipe.SetVADDetect(vad.Process(frame))

		if err := pipe.Write(audio.PCMBytes(frame)); err != nil {
			if errors.Is(err, doa.ErrQueueFull) {
				slog.Debug("frame dropped, queue full")
				continue
			}
			return err
		}
	}
}
