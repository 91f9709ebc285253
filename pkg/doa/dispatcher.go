package doa

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/doatrack/pkg/audio"
)

// Frame geometry: 16 kHz interleaved stereo, signed 16-bit little-endian,
// 32 ms per frame.
const (
	SampleRate      = 16000
	FrameBytes      = 2048
	samplesPerFrame = FrameBytes / 4 // per channel
	ringFrames      = 3
)

const (
	pollInterval  = 10 * time.Millisecond
	closeGrace    = 100 * time.Millisecond
	writeWait     = 10 * time.Millisecond
)

// dispatcher owns the frame queue and the single worker goroutine that
// pulls whole frames, runs the kernel, and hands conditioned bearings to
// the emit function. Everything past the ring is worker-owned.
type dispatcher struct {
	ring   *ring
	kernel Kernel
	cond   *conditioner
	emit   func(angle float64)

	frame []byte
	left  []int16
	right []int16

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// newDispatcher allocates all buffers and spawns the worker in the stopped
// state. The worker runs until close.
func newDispatcher(kernel Kernel, emit func(angle float64)) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		ring:   newRing(FrameBytes * ringFrames),
		kernel: kernel,
		cond:   newConditioner(),
		emit:   emit,
		frame:  make([]byte, FrameBytes),
		left:   make([]int16, samplesPerFrame),
		right:  make([]int16, samplesPerFrame),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run(ctx)
	return d
}

func (d *dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !d.started.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		// Frame-or-nothing: a short read simply means the producer has
		// not delivered a full frame yet.
		if !d.ring.ReadFrame(d.frame, pollInterval) {
			continue
		}

		audio.Deinterleave(d.frame, d.left, d.right)
		angle := d.kernel.Process(d.left, d.right)
		d.emit(d.cond.Push(angle))
	}
}

// write enqueues PCM bytes, waiting briefly for space.
func (d *dispatcher) write(p []byte) error {
	return d.ring.Write(p, writeWait)
}

func (d *dispatcher) start() { d.started.Store(true) }
func (d *dispatcher) stop()  { d.started.Store(false) }

// close stops the worker and waits briefly for it to quiesce.
func (d *dispatcher) close() {
	d.stop()
	d.cancel()
	d.ring.Close()
	select {
	case <-d.done:
	case <-time.After(closeGrace):
		slog.Warn("doa: dispatch worker did not quiesce in time")
	}
}
