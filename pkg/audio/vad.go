package audio

import "sync"

// VAD is an RMS-energy voice activity detector used to gate PCM writes into
// the DOA pipeline. A hold window keeps the gate open across short pauses
// so a speaker's bearing is not lost between words.
type VAD struct {
	mu        sync.RWMutex
	threshold float64 // RMS threshold for voice detection
	holdTime  int     // frames to keep the gate open after voice stops
	holdCount int     // current hold counter
	active    bool    // current voice activity state
}

// NewVAD creates a new Voice Activity Detector.
// threshold: RMS energy threshold (typical: 200-1000 for int16 PCM)
// holdFrames: frames to keep active after voice stops (e.g. 10 = 320ms at 32ms/frame)
func NewVAD(threshold float64, holdFrames int) *VAD {
	return &VAD{
		threshold: threshold,
		holdTime:  holdFrames,
	}
}

// Process analyzes one interleaved stereo frame and returns true if voice
// is detected or the hold window is still open.
func (v *VAD) Process(pcm []int16) bool {
	rms := RMS(pcm)

	v.mu.Lock()
	defer v.mu.Unlock()

	if rms > v.threshold {
		v.holdCount = v.holdTime
		v.active = true
		return true
	}

	if v.holdCount > 0 {
		v.holdCount--
		return true
	}

	v.active = false
	return false
}

// IsActive returns the current voice activity state without processing.
func (v *VAD) IsActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}

// SetThreshold updates the VAD threshold.
func (v *VAD) SetThreshold(threshold float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.threshold = threshold
}
