// Package doa implements the signal-conditioning and tracking pipeline of a
// two-microphone direction-of-arrival estimator.
//
// Interleaved stereo PCM written to a Pipeline is cut into fixed 32 ms
// frames on a dedicated worker, each frame run through a bearing kernel,
// and the raw bearings smoothed, calibrated, and fed to a Tracker that
// emits stabilized bearings at a bounded rate:
//
//	PCM -> Write (VAD gated) -> frame queue -> kernel -> conditioner
//	    -> Monitor callback -> Tracker -> Result callback
//
// Both callbacks run on the worker goroutine and must be short and
// non-blocking.
package doa

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Config wires a Pipeline. Start from DefaultConfig; a zero-value Config
// means no monitor, emit on every full-buffer feed, no minimum-change
// filter, and the default microphone geometry.
type Config struct {
	// Monitor, if set, receives every smoothed and calibrated per-frame
	// bearing before the tracker sees it.
	Monitor func(angle float64)

	// Result receives the tracker's stabilized bearings. Required.
	Result func(angle float64)

	// OutputInterval is the minimum time between Result invocations.
	// 0 emits on every feed once the tracker history is full.
	OutputInterval time.Duration

	// MinAngleChange suppresses Result invocations closer than this to the
	// previous output, in degrees. 0 disables the filter.
	MinAngleChange float64

	// MicDistance is the microphone spacing in meters.
	MicDistance float64

	// Kernel overrides the built-in cross-correlation estimator.
	Kernel Kernel
}

// DefaultConfig returns the production defaults: one output per second, a
// 15 degree minimum change, and 46 mm microphone spacing.
func DefaultConfig() Config {
	return Config{
		OutputInterval: DefaultOutputInterval,
		MinAngleChange: DefaultMinAngleChange,
		MicDistance:    DefaultMicDistance,
	}
}

// Pipeline is one estimator instance. Create it with New, feed it with
// Write, and release it with Close. A Pipeline is built stopped: nothing is
// processed until Start.
type Pipeline struct {
	disp    *dispatcher
	tracker *Tracker

	vadDetect atomic.Bool
	closed    atomic.Bool
}

// New validates cfg, allocates every buffer the pipeline will ever need,
// and spawns the worker in the stopped state. Construction is
// all-or-nothing: on error no goroutine or resource is left behind.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Result == nil {
		return nil, fmt.Errorf("doa: result callback: %w", ErrInvalidArgument)
	}

	tracker, err := NewTracker(TrackerConfig{
		Result:         cfg.Result,
		OutputInterval: cfg.OutputInterval,
		MinAngleChange: cfg.MinAngleChange,
	})
	if err != nil {
		return nil, fmt.Errorf("doa: tracker: %w", err)
	}

	kernel := cfg.Kernel
	if kernel == nil {
		kernel = NewKernel(KernelConfig{MicDistance: cfg.MicDistance})
	}

	p := &Pipeline{tracker: tracker}
	p.disp = newDispatcher(kernel, func(angle float64) {
		if cfg.Monitor != nil {
			cfg.Monitor(angle)
		}
		tracker.Feed(angle)
	})
	return p, nil
}

// Start begins processing queued frames and arms the tracker. Idempotent.
func (p *Pipeline) Start() error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.disp.start()
	p.tracker.Enable(true)
	return nil
}

// Stop pauses processing and disarms the tracker, dropping its history.
// Queued frames are kept. Idempotent.
func (p *Pipeline) Stop() error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.disp.stop()
	p.tracker.Enable(false)
	return nil
}

// Write enqueues interleaved stereo PCM. While the VAD gate is closed the
// data is accepted and discarded. Write never blocks beyond a short bounded
// wait; a full queue surfaces as ErrQueueFull with nothing enqueued.
func (p *Pipeline) Write(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(data) == 0 {
		return fmt.Errorf("doa: write: %w", ErrInvalidArgument)
	}
	if !p.vadDetect.Load() {
		return nil
	}
	return p.disp.write(data)
}

// SetVADDetect opens or closes the write gate. The gate is closed on a new
// Pipeline.
func (p *Pipeline) SetVADDetect(active bool) {
	p.vadDetect.Store(active)
}

// Close stops the pipeline and releases the worker. Further calls return
// ErrClosed; Close itself is idempotent.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.tracker.Enable(false)
	p.disp.close()
	return nil
}
