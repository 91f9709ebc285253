// Package datastore persists emitted bearings to SQLite so capture sessions
// can be analyzed offline.
package datastore

import (
	"github.com/NicolasHaas/doatrack/pkg/model"
)

// BearingStore defines the persistence interface for the bearing log.
// The default implementation is the SQLite store; in-memory stores can be
// substituted in tests.
type BearingStore interface {
	RecordBearing(b *model.Bearing) error
	ListBearings(filters model.BearingFilters) ([]model.Bearing, error)
	Close() error
}

// Compile-time check: *Store implements BearingStore.
var _ BearingStore = (*Store)(nil)
