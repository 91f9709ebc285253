// Package audio provides PCM helpers, stereo capture, and energy-based
// voice activity detection for the DOA pipeline.
package audio

import (
	"encoding/binary"
	"math"
)

// Deinterleave splits little-endian interleaved stereo PCM bytes into the
// two channel buffers. Left samples sit at even positions, right at odd.
// It fills as many sample pairs as data and the buffers allow and returns
// that count.
func Deinterleave(data []byte, left, right []int16) int {
	pairs := len(data) / 4
	if pairs > len(left) {
		pairs = len(left)
	}
	if pairs > len(right) {
		pairs = len(right)
	}
	for i := 0; i < pairs; i++ {
		left[i] = int16(binary.LittleEndian.Uint16(data[i*4:]))
		right[i] = int16(binary.LittleEndian.Uint16(data[i*4+2:]))
	}
	return pairs
}

// Interleave packs two channel buffers into little-endian interleaved
// stereo PCM bytes. The shorter channel bounds the output.
func Interleave(left, right []int16) []byte {
	pairs := len(left)
	if len(right) < pairs {
		pairs = len(right)
	}
	out := make([]byte, pairs*4)
	for i := 0; i < pairs; i++ {
		binary.LittleEndian.PutUint16(out[i*4:], uint16(left[i]))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(right[i]))
	}
	return out
}

// PCMBytes packs samples into little-endian bytes in place order, for
// handing an already-interleaved frame to a byte-oriented consumer.
func PCMBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS calculates the Root Mean Square of a PCM frame.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
