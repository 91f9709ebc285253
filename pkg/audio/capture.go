package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureDevice captures interleaved stereo PCM from a two-channel input
// device, one fixed-size frame at a time.
type CaptureDevice struct {
	stream     *portaudio.Stream
	sampleRate float64
	frameSize  int // sample pairs per frame
	buffer     []int16
	deviceName string // empty = default
	mu         sync.Mutex
	running    bool
}

// NewCaptureDevice creates a stereo capture device. frameSize is the number
// of sample pairs per frame (e.g. 512 for 32ms at 16kHz). deviceName may be
// empty to use the system default input.
func NewCaptureDevice(sampleRate float64, frameSize int, deviceName ...string) (*CaptureDevice, error) {
	// Wait for the background PreInitAudio to finish (blocks until ready)
	WaitPreInit()

	dn := ""
	if len(deviceName) > 0 {
		dn = deviceName[0]
	}
	return &CaptureDevice{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		buffer:     make([]int16, frameSize*2),
		deviceName: dn,
	}, nil
}

// Start begins audio capture. Call ReadFrame() to get captured audio.
func (c *CaptureDevice) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var input *portaudio.DeviceInfo
	if c.deviceName != "" {
		input = FindDevice(c.deviceName)
	}
	if input == nil {
		var err error
		input, err = portaudio.DefaultInputDevice()
		if err != nil {
			return fmt.Errorf("audio: no input device: %w", err)
		}
	}
	if input.MaxInputChannels < 2 {
		return fmt.Errorf("audio: device %q has %d input channel(s), need 2", input.Name, input.MaxInputChannels)
	}

	params := portaudio.LowLatencyParameters(input, nil)
	params.Input.Channels = 2
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = c.sampleRate
	params.FramesPerBuffer = c.frameSize

	stream, err := portaudio.OpenStream(params, c.buffer)
	if err != nil {
		return fmt.Errorf("audio: open capture stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("audio: start capture: %w", err)
	}

	c.stream = stream
	c.running = true
	slog.Debug("stereo capture started", "device", input.Name, "rate", c.sampleRate)
	return nil
}

// ReadFrame reads one frame of interleaved stereo PCM. Blocks until a frame
// is available. Returns a copy of the frame buffer.
func (c *CaptureDevice) ReadFrame() ([]int16, error) {
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("audio: read frame: %w", err)
	}
	frame := make([]int16, len(c.buffer))
	copy(frame, c.buffer)
	return frame, nil
}

// Stop stops audio capture.
func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
	}
	return nil
}

// Close releases all audio resources.
func (c *CaptureDevice) Close() error {
	_ = c.Stop()
	return portaudio.Terminate()
}
