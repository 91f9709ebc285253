package doa_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/doatrack/pkg/audio"
	"github.com/NicolasHaas/doatrack/pkg/doa"
)

// recordingKernel captures the first left-channel sample of every frame it
// sees, so tests can tag frames and verify delivery order.
type recordingKernel struct {
	mu     sync.Mutex
	firsts []int16
	angle  float64
}

func (k *recordingKernel) Process(left, right []int16) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.firsts = append(k.firsts, left[0])
	return k.angle
}

func (k *recordingKernel) seen() []int16 {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]int16, len(k.firsts))
	copy(out, k.firsts)
	return out
}

// taggedFrame builds one 2048-byte frame whose left channel starts with tag.
func taggedFrame(tag int16) []byte {
	left := make([]int16, doa.FrameBytes/4)
	right := make([]int16, doa.FrameBytes/4)
	left[0] = tag
	return audio.Interleave(left, right)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestNewRequiresResultCallback(t *testing.T) {
	_, err := doa.New(doa.Config{})
	if !errors.Is(err, doa.ErrInvalidArgument) {
		t.Fatalf("New(no result callback) = %v, want ErrInvalidArgument", err)
	}
}

func TestPipelineWriteValidation(t *testing.T) {
	p, err := doa.New(doa.Config{Result: func(float64) {}})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.Write(nil); !errors.Is(err, doa.ErrInvalidArgument) {
		t.Errorf("Write(nil) = %v, want ErrInvalidArgument", err)
	}
	if err := p.Write([]byte{}); !errors.Is(err, doa.ErrInvalidArgument) {
		t.Errorf("Write(empty) = %v, want ErrInvalidArgument", err)
	}
}

func TestPipelineVADGate(t *testing.T) {
	kernel := &recordingKernel{angle: 45}
	var monitors, results int
	var mu sync.Mutex

	p, err := doa.New(doa.Config{
		Kernel:  kernel,
		Monitor: func(float64) { mu.Lock(); monitors++; mu.Unlock() },
		Result:  func(float64) { mu.Lock(); results++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	// The gate starts closed: every write is accepted and discarded.
	frame := taggedFrame(1)
	for i := 0; i < 1000; i++ {
		if err := p.Write(frame); err != nil {
			t.Fatalf("gated Write %d: unexpected error: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	m, r := monitors, results
	mu.Unlock()
	if len(kernel.seen()) != 0 || m != 0 || r != 0 {
		t.Fatalf("gated writes reached the pipeline: kernel=%d monitor=%d result=%d",
			len(kernel.seen()), m, r)
	}
}

func TestPipelineFrameOrdering(t *testing.T) {
	kernel := &recordingKernel{angle: 45}
	p, err := doa.New(doa.Config{
		Kernel: kernel,
		Result: func(float64) {},
	})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	p.SetVADDetect(true)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	const frames = 20
	for i := 0; i < frames; i++ {
		frame := taggedFrame(int16(i + 1))
		// Bounded retry: the queue holds three frames and the worker
		// drains at its own pace.
		deadline := time.Now().Add(2 * time.Second)
		for {
			err := p.Write(frame)
			if err == nil {
				break
			}
			if !errors.Is(err, doa.ErrQueueFull) || time.Now().After(deadline) {
				t.Fatalf("Write %d: %v", i, err)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return len(kernel.seen()) == frames },
		"kernel did not see all frames")

	for i, tag := range kernel.seen() {
		if tag != int16(i+1) {
			t.Fatalf("frame %d processed out of order: tag %d", i, tag)
		}
	}
}

func TestPipelineMonitorAndResult(t *testing.T) {
	var mu sync.Mutex
	var monitors, results []float64

	cfg := doa.Config{
		Kernel:  &recordingKernel{angle: 45},
		Monitor: func(a float64) { mu.Lock(); monitors = append(monitors, a); mu.Unlock() },
		Result:  func(a float64) { mu.Lock(); results = append(results, a); mu.Unlock() },
		// Every-frame output, no minimum change: zero-value tracker options.
	}
	p, err := doa.New(cfg)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	p.SetVADDetect(true)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	frame := taggedFrame(1)
	for i := 0; i < 30; i++ {
		deadline := time.Now().Add(2 * time.Second)
		for {
			err := p.Write(frame)
			if err == nil {
				break
			}
			if !errors.Is(err, doa.ErrQueueFull) || time.Now().After(deadline) {
				t.Fatalf("Write %d: %v", i, err)
			}
			time.Sleep(time.Millisecond)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(monitors) == 30 && len(results) > 0
	}, "callbacks did not fire")

	mu.Lock()
	defer mu.Unlock()
	for i, a := range monitors {
		if a < 0 || a > 180 {
			t.Errorf("monitor[%d] = %v outside [0, 180]", i, a)
		}
	}
	for i, a := range results {
		if a < 0 || a > 180 {
			t.Errorf("result[%d] = %v outside [0, 180]", i, a)
		}
	}
	// A constant 45-degree kernel smooths towards calibrate(45): the last
	// monitored bearings settle well below broadside.
	if last := monitors[len(monitors)-1]; math.Abs(last-39.375) > 0.5 {
		t.Errorf("settled monitor bearing = %v, want about 39.4", last)
	}
}

func TestPipelineStopHoldsFrames(t *testing.T) {
	kernel := &recordingKernel{angle: 45}
	p, err := doa.New(doa.Config{Kernel: kernel, Result: func(float64) {}})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	defer func() { _ = p.Close() }()

	p.SetVADDetect(true)
	// Not started: writes queue up to the ring capacity, then fail.
	frame := taggedFrame(1)
	for i := 0; i < 3; i++ {
		if err := p.Write(frame); err != nil {
			t.Fatalf("Write %d while stopped: %v", i, err)
		}
	}
	if err := p.Write(frame); !errors.Is(err, doa.ErrQueueFull) {
		t.Fatalf("Write on full queue = %v, want ErrQueueFull", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(kernel.seen()); n != 0 {
		t.Fatalf("stopped pipeline processed %d frames", n)
	}

	// Starting drains the backlog in order.
	if err := p.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(kernel.seen()) == 3 },
		"backlog not drained after Start")
}

func TestPipelineClose(t *testing.T) {
	p, err := doa.New(doa.Config{Result: func(float64) {}})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: unexpected error: %v", err)
	}

	if err := p.Write(taggedFrame(1)); !errors.Is(err, doa.ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
	if err := p.Start(); !errors.Is(err, doa.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if err := p.Stop(); !errors.Is(err, doa.ErrClosed) {
		t.Errorf("Stop after Close = %v, want ErrClosed", err)
	}
}
