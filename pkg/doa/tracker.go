package doa

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	trackerBufferSize         = 6
	recentWeightFactor        = 3.0
	reasonableChangeThreshold = 40.0
	silentAngle               = 90.0
	silentAngleThreshold      = 6.0 // "near 90" means the (84, 96) range
	initialSamplesToCheck     = 3
	gradualChangeThreshold    = 20.0
	angleQuantizationStep     = 20.0
	angleMin                  = 0.0
	angleMax                  = 180.0
	majorChangeThreshold      = 30.0
	continuous90Duration      = time.Second
	buffer90Ratio             = 2.0 / 3.0
)

// Defaults applied by DefaultConfig. A zero OutputInterval means "emit on
// every feed once the buffer is full"; a zero MinAngleChange disables the
// minimum-change filter.
const (
	DefaultOutputInterval = time.Second
	DefaultMinAngleChange = 15.0
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Result receives each stabilized bearing. Required.
	Result func(angle float64)

	// OutputInterval is the minimum time between emissions. 0 emits on
	// every feed once the history is full.
	OutputInterval time.Duration

	// MinAngleChange suppresses emissions closer than this to the previous
	// output. 0 disables the filter.
	MinAngleChange float64
}

// Tracker turns the conditioned per-frame bearings into stabilized,
// de-jittered outputs. It keeps a short history of quantized bearings,
// rejects broadside readings that look like silence artifacts rather than a
// front-facing source, and rate-limits what it emits.
//
// Feed and Enable may be called from different goroutines.
type Tracker struct {
	mu sync.Mutex

	enabled bool

	buffer         [trackerBufferSize]float64 // quantized bearings
	originalBuffer [trackerBufferSize]float64 // pre-quantization bearings
	validMask      [trackerBufferSize]bool
	writeIndex     int
	validCount     int

	isFrontFacingMode        bool
	isNotFrontFacingDetected bool
	initialSamplesCount      int

	lastValidAngle    float64
	hasLastValidAngle bool

	lastOutputAngle float64
	hasOutputAngle  bool

	firstNear90    time.Time
	hasNear90Start bool
	lastOutput     time.Time

	outputInterval time.Duration
	minAngleChange float64
	result         func(angle float64)

	now func() time.Time // swapped out by tests
}

// NewTracker creates a tracker in the disabled state.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Result == nil || cfg.OutputInterval < 0 || cfg.MinAngleChange < 0 {
		return nil, ErrInvalidArgument
	}
	t := &Tracker{
		outputInterval: cfg.OutputInterval,
		minAngleChange: cfg.MinAngleChange,
		result:         cfg.Result,
		now:            time.Now,
	}
	t.reset()
	return t, nil
}

// Enable resets all tracker state and then enables or disables feeding.
func (t *Tracker) Enable(enable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.enabled = enable
}

// Feed offers one bearing to the tracker. Bearings that fail the validity
// policy are dropped silently; at most one result is emitted per call.
func (t *Tracker) Feed(angle float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	currentAvg := t.weightedAverage()
	if !t.isAngleValid(angle) {
		return
	}

	quantized := quantizeAngle(angle)

	// A full buffer whose average is far from the new bearing means the
	// source moved: drop the stale history and start over.
	if t.validCount >= trackerBufferSize && math.Abs(angle-currentAvg) > majorChangeThreshold {
		t.reset()
		slog.Debug("doa tracker: major bearing change, history reset", "angle", angle)
	}

	if !t.validMask[t.writeIndex] {
		t.validCount++
	}
	t.buffer[t.writeIndex] = quantized
	t.originalBuffer[t.writeIndex] = angle
	t.validMask[t.writeIndex] = true
	t.writeIndex = (t.writeIndex + 1) % trackerBufferSize

	t.lastValidAngle = quantized
	t.hasLastValidAngle = true

	t.checkInitialSamples()
	t.decideOutput()
}

// reset returns every field except the config and enable flag to its
// post-construction value.
func (t *Tracker) reset() {
	t.buffer = [trackerBufferSize]float64{}
	t.originalBuffer = [trackerBufferSize]float64{}
	t.validMask = [trackerBufferSize]bool{}
	t.writeIndex = 0
	t.validCount = 0
	t.isFrontFacingMode = false
	t.isNotFrontFacingDetected = false
	t.initialSamplesCount = 0
	t.lastValidAngle = 0
	t.hasLastValidAngle = false
	t.lastOutputAngle = 0
	t.hasOutputAngle = false
	t.reset90Tracking()
	t.lastOutput = time.Time{}
}

func isNear90(angle float64) bool {
	return math.Abs(angle-silentAngle) < silentAngleThreshold
}

// countNear90 counts valid entries whose pre-quantization value is near 90.
func (t *Tracker) countNear90() int {
	count := 0
	for i := 0; i < trackerBufferSize; i++ {
		if t.validMask[i] && isNear90(t.originalBuffer[i]) {
			count++
		}
	}
	return count
}

func (t *Tracker) bufferMostly90() bool {
	if t.validCount == 0 {
		return false
	}
	need := int(math.Ceil(float64(t.validCount) * buffer90Ratio))
	return t.countNear90() >= need
}

func (t *Tracker) reset90Tracking() {
	t.hasNear90Start = false
	t.firstNear90 = time.Time{}
}

func (t *Tracker) start90Tracking() {
	if !t.hasNear90Start {
		t.firstNear90 = t.now()
		t.hasNear90Start = true
	}
}

// checkContinuous90 promotes to front-facing mode once broadside readings
// have persisted for the full window.
func (t *Tracker) checkContinuous90() bool {
	if !t.hasNear90Start {
		return false
	}
	if t.now().Sub(t.firstNear90) >= continuous90Duration {
		t.isFrontFacingMode = true
		slog.Info("doa tracker: front-facing speech detected",
			"window", continuous90Duration)
		return true
	}
	return false
}

// checkGradualChangeTo90 accepts a move into the broadside band only when
// the step from the last accepted bearing is small and ends closer to 90,
// and a backwards walk through the history from the last accepted bearing
// finds at least three steps where the older entry lies closer to 90 than
// the newer one before it.
func (t *Tracker) checkGradualChangeTo90(angle float64) bool {
	if !t.hasLastValidAngle || t.validCount < 3 {
		return false
	}
	if math.Abs(angle-t.lastValidAngle) >= gradualChangeThreshold {
		return false
	}
	if math.Abs(angle-silentAngle) >= math.Abs(t.lastValidAngle-silentAngle) {
		return false
	}

	movingTowards90 := 0
	lastChecked := t.lastValidAngle
	for i := 0; i < trackerBufferSize && movingTowards90 < 3; i++ {
		idx := (t.writeIndex - 2 - i + 2*trackerBufferSize) % trackerBufferSize
		if !t.validMask[idx] {
			continue
		}
		if math.Abs(t.buffer[idx]-silentAngle) < math.Abs(lastChecked-silentAngle) {
			movingTowards90++
		}
		lastChecked = t.buffer[idx]
	}
	return movingTowards90 >= 3
}

// quantizeAngle snaps a bearing to the center of its 20-degree bin.
func quantizeAngle(angle float64) float64 {
	if angle < angleMin {
		angle = angleMin
	} else if angle > angleMax {
		angle = angleMax
	}
	interval := int(angle / angleQuantizationStep)
	if interval >= 9 {
		interval = 8 // 180 belongs to the top bin
	}
	return float64(interval)*angleQuantizationStep + angleQuantizationStep/2
}

// isAngleValid is the silence-rejection policy: broadside readings are only
// trusted when the tracker has reason to believe the source really is in
// front of the array.
func (t *Tracker) isAngleValid(angle float64) bool {
	if !isNear90(angle) {
		t.reset90Tracking()
		return true
	}

	if t.isFrontFacingMode {
		return true
	}

	t.start90Tracking()
	if t.checkContinuous90() {
		return true
	}

	// Let the initial probe see its samples.
	if t.validCount < initialSamplesToCheck {
		return true
	}

	if !t.hasLastValidAngle {
		return t.bufferMostly90()
	}

	if isNear90(t.lastValidAngle) {
		return math.Abs(angle-t.lastValidAngle) < gradualChangeThreshold
	}

	// Transition from a non-broadside bearing into the broadside band.
	t.reset90Tracking()
	if t.checkGradualChangeTo90(angle) {
		return true
	}
	return t.bufferMostly90()
}

// checkInitialSamples runs the one-shot probe over the first three bearings
// to decide the operating mode.
func (t *Tracker) checkInitialSamples() {
	if t.initialSamplesCount >= initialSamplesToCheck || t.validCount < initialSamplesToCheck {
		return
	}

	near90 := 0
	checked := 0
	for i := 0; i < trackerBufferSize && checked < initialSamplesToCheck; i++ {
		if !t.validMask[i] {
			continue
		}
		if isNear90(t.originalBuffer[i]) {
			near90++
		}
		checked++
	}

	if checked >= initialSamplesToCheck {
		if near90 >= initialSamplesToCheck {
			t.isFrontFacingMode = true
		} else {
			t.isNotFrontFacingDetected = true
		}
		t.initialSamplesCount = initialSamplesToCheck
	}
}

// applyAngleBias pulls averages in the endfire regions towards the extreme
// bearing seen in the buffer, countering the pull of quantized mid values.
func applyAngleBias(avg, minAngle, maxAngle float64) float64 {
	switch {
	case avg >= 110 && avg <= 180:
		return avg*0.3 + maxAngle*0.7
	case avg >= 0 && avg <= 40:
		return avg*0.3 + minAngle*0.7
	default:
		return avg
	}
}

// firstAverage is the plain mean over valid quantized entries, biased.
func (t *Tracker) firstAverage() float64 {
	if t.validCount == 0 {
		return 0
	}
	sum := 0.0
	minAngle, maxAngle := angleMax, angleMin
	count := 0
	for i := 0; i < trackerBufferSize; i++ {
		if !t.validMask[i] {
			continue
		}
		v := t.buffer[i]
		sum += v
		minAngle = math.Min(minAngle, v)
		maxAngle = math.Max(maxAngle, v)
		count++
	}
	return applyAngleBias(sum/float64(count), minAngle, maxAngle)
}

// weightedAverage weighs the newest entry heavier, then applies the bias.
func (t *Tracker) weightedAverage() float64 {
	if t.validCount == 0 {
		return 0
	}
	latest := (t.writeIndex - 1 + trackerBufferSize) % trackerBufferSize

	weightedSum, totalWeight := 0.0, 0.0
	minAngle, maxAngle := angleMax, angleMin
	for i := 0; i < trackerBufferSize; i++ {
		if !t.validMask[i] {
			continue
		}
		weight := 1.0
		if i == latest {
			weight = recentWeightFactor
		}
		v := t.buffer[i]
		weightedSum += v * weight
		totalWeight += weight
		minAngle = math.Min(minAngle, v)
		maxAngle = math.Max(maxAngle, v)
	}
	return applyAngleBias(weightedSum/totalWeight, minAngle, maxAngle)
}

// shouldAllow90Output gates broadside emissions on buffer corroboration
// plus either front-facing mode or a satisfied continuous-90 window.
func (t *Tracker) shouldAllow90Output(now time.Time) bool {
	if !t.bufferMostly90() {
		slog.Debug("doa tracker: broadside average without corroboration",
			"near90", t.countNear90(), "valid", t.validCount)
		return false
	}
	if t.isFrontFacingMode {
		return true
	}
	if !t.hasNear90Start || now.Sub(t.firstNear90) < continuous90Duration {
		return false
	}
	return true
}

func (t *Tracker) decideOutput() {
	now := t.now()
	shouldOutput := false
	avgAngle := 0.0

	if !t.hasOutputAngle {
		// First emission waits for a full history.
		if t.validCount >= trackerBufferSize {
			avgAngle = t.firstAverage()
			shouldOutput = true
		}
	} else if t.validCount >= trackerBufferSize {
		if t.outputInterval == 0 || now.Sub(t.lastOutput) >= t.outputInterval {
			avgAngle = t.weightedAverage()

			if math.Abs(avgAngle-silentAngle) < 5 {
				shouldOutput = t.shouldAllow90Output(now)
			} else {
				shouldOutput = true
			}

			if shouldOutput {
				change := math.Abs(avgAngle - t.lastOutputAngle)
				if change > reasonableChangeThreshold {
					shouldOutput = false
					slog.Debug("doa tracker: bearing step too large",
						"from", t.lastOutputAngle, "to", avgAngle)
				} else if t.minAngleChange > 0 && change < t.minAngleChange {
					shouldOutput = false
				}
			}
		}
	}

	if shouldOutput {
		t.lastOutputAngle = avgAngle
		t.hasOutputAngle = true
		t.lastOutput = now
		t.result(avgAngle)
	}
}
