package doa

import "math"

// Kernel estimates the bearing of the dominant source for one stereo frame.
// left and right hold the de-interleaved channels; the returned angle is in
// degrees on [0, 180], 90 being broadside to the microphone baseline.
type Kernel interface {
	Process(left, right []int16) float64
}

// KernelConfig holds the geometry and timing of the microphone pair.
// Zero fields take the defaults below.
type KernelConfig struct {
	SampleRate      int     // Hz
	SoundSpeed      float64 // propagation speed in the kernel's lag units
	MicDistance     float64 // meters between the two microphones
	SamplesPerFrame int     // samples per channel per frame
}

// Defaults for a 16 kHz two-mic array with 46 mm spacing.
const (
	DefaultSampleRate  = 16000
	DefaultSoundSpeed  = 10.0
	DefaultMicDistance = 0.046
)

// xcorrKernel is the built-in estimator: normalized time-domain
// cross-correlation between the channels, best lag mapped to a bearing.
type xcorrKernel struct {
	sampleRate  int
	soundSpeed  float64
	micDistance float64
	maxLag      int
}

// NewKernel returns the built-in cross-correlation estimator.
func NewKernel(cfg KernelConfig) Kernel {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SoundSpeed <= 0 {
		cfg.SoundSpeed = DefaultSoundSpeed
	}
	if cfg.MicDistance <= 0 {
		cfg.MicDistance = DefaultMicDistance
	}
	if cfg.SamplesPerFrame <= 0 {
		cfg.SamplesPerFrame = samplesPerFrame
	}

	// Largest physically possible inter-channel delay, in samples.
	maxLag := int(cfg.MicDistance / cfg.SoundSpeed * float64(cfg.SampleRate))
	if maxLag < 1 {
		maxLag = 1
	}
	if maxLag >= cfg.SamplesPerFrame {
		maxLag = cfg.SamplesPerFrame - 1
	}

	return &xcorrKernel{
		sampleRate:  cfg.SampleRate,
		soundSpeed:  cfg.SoundSpeed,
		micDistance: cfg.MicDistance,
		maxLag:      maxLag,
	}
}

func (k *xcorrKernel) Process(left, right []int16) float64 {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	if n == 0 {
		return silentAngle
	}

	var energyL, energyR float64
	for i := 0; i < n; i++ {
		energyL += float64(left[i]) * float64(left[i])
		energyR += float64(right[i]) * float64(right[i])
	}
	if energyL == 0 || energyR == 0 {
		// No signal on one channel: no usable phase information.
		return silentAngle
	}
	norm := math.Sqrt(energyL * energyR)

	bestLag := 0
	bestCorr := math.Inf(-1)
	for lag := -k.maxLag; lag <= k.maxLag; lag++ {
		var sum float64
		for i := 0; i < n; i++ {
			j := i + lag
			if j < 0 || j >= n {
				continue
			}
			sum += float64(left[i]) * float64(right[j])
		}
		if corr := sum / norm; corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	// delay/sampleRate * soundSpeed / micDistance is the cosine of the
	// bearing relative to the baseline.
	cos := float64(bestLag) * k.soundSpeed / (float64(k.sampleRate) * k.micDistance)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) * 180 / math.Pi
}
