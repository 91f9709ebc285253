// Package model holds the entities shared between the pipeline tooling and
// the bearing log.
package model

import (
	"errors"
	"time"
)

// Bearings are measured against the microphone baseline.
const (
	AngleMin = 0.0
	AngleMax = 180.0
)

var (
	ErrAngleOutOfRange = errors.New("angle out of range")
	ErrSourceEmpty     = errors.New("source is empty")
)

// Bearing.Source values, identifying which stage of the pipeline produced a
// record.
const (
	SourceTracker = "tracker" // stabilized tracker output
	SourceMonitor = "monitor" // per-frame conditioned bearing
)

// Bearing is one recorded estimate.
type Bearing struct {
	ID     int64
	Angle  float64 // degrees, [0, 180]
	Source string
	At     time.Time
}

// ValidAngle reports whether a lies on the [0, 180] bearing interval.
func ValidAngle(a float64) bool {
	return a >= AngleMin && a <= AngleMax
}

// Validate checks a bearing before it is persisted.
func (b *Bearing) Validate() error {
	if !ValidAngle(b.Angle) {
		return ErrAngleOutOfRange
	}
	if b.Source == "" {
		return ErrSourceEmpty
	}
	return nil
}

// BearingFilters narrows ListBearings results. Zero fields are ignored.
type BearingFilters struct {
	Source string
	Since  time.Time
	Limit  int
}
