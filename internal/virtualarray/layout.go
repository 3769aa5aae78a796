// Package virtualarray synthesizes the TDM-MIMO virtual antenna array: it
// maps each (transmit slot, receive channel) pair of a calibrated frame to
// the virtual position given by the sum of the transmit and receive antenna
// offsets.
package virtualarray

import (
	"fmt"

	"github.com/banshee-data/mmwave.capture/internal/config"
)

// LayoutMismatchError reports a frame whose shape disagrees with the
// antenna layout. Processing must not start with a mismatched layout.
type LayoutMismatchError struct {
	Reason string
}

func (e *LayoutMismatchError) Error() string {
	return "layout mismatch: " + e.Reason
}

// DuplicatePolicy selects handling of (Tx,Rx) pairs that land on the same
// virtual position. Overlapping layouts must declare a policy explicitly;
// collisions are never resolved silently.
type DuplicatePolicy int

const (
	KeepFirst DuplicatePolicy = iota
	Average
)

// Position is an antenna location on the half-wavelength grid.
type Position struct {
	Azimuth   int
	Elevation int
}

// Layout is the immutable antenna geometry of a capture: physical receive
// and transmit positions, the TDM firing order, and the duplicate policy.
// It is constructed once per session and shared read-only.
type Layout struct {
	Rx       []Position
	Tx       []Position
	TDMOrder []int // TDMOrder[slot] = index into Tx of the antenna firing in that slot
	Policy   DuplicatePolicy

	aziSize int
	eleSize int
	overlap bool
}

// FromConfig builds and validates a Layout from its configuration form.
// The configuration is assumed structurally valid (config.Validate ran);
// this adds the geometric checks: grid extents and collision declaration.
func FromConfig(lc config.Layout) (*Layout, error) {
	l := &Layout{
		Rx: make([]Position, len(lc.RxAzimuth)),
		Tx: make([]Position, len(lc.TxAzimuth)),
	}
	for i := range lc.RxAzimuth {
		l.Rx[i] = Position{Azimuth: lc.RxAzimuth[i], Elevation: lc.RxElevation[i]}
	}
	for i := range lc.TxAzimuth {
		l.Tx[i] = Position{Azimuth: lc.TxAzimuth[i], Elevation: lc.TxElevation[i]}
	}
	if len(lc.TDMOrder) > 0 {
		l.TDMOrder = append([]int(nil), lc.TDMOrder...)
	} else {
		l.TDMOrder = make([]int, len(l.Tx))
		for i := range l.TDMOrder {
			l.TDMOrder[i] = i
		}
	}
	switch lc.DuplicatePolicy {
	case "", "keep-first":
		l.Policy = KeepFirst
	case "average":
		l.Policy = Average
	default:
		return nil, &LayoutMismatchError{
			Reason: fmt.Sprintf("unknown duplicate_policy %q", lc.DuplicatePolicy),
		}
	}

	seen := map[Position]bool{}
	for _, tx := range l.Tx {
		for _, rx := range l.Rx {
			p := Position{Azimuth: tx.Azimuth + rx.Azimuth, Elevation: tx.Elevation + rx.Elevation}
			if p.Azimuth+1 > l.aziSize {
				l.aziSize = p.Azimuth + 1
			}
			if p.Elevation+1 > l.eleSize {
				l.eleSize = p.Elevation + 1
			}
			if seen[p] {
				l.overlap = true
			}
			seen[p] = true
		}
	}
	if l.overlap && lc.DuplicatePolicy == "" {
		return nil, &LayoutMismatchError{
			Reason: "layout has overlapping virtual positions but declares no duplicate_policy",
		}
	}
	return l, nil
}

// AzimuthSize returns the azimuth extent of the virtual grid.
func (l *Layout) AzimuthSize() int { return l.aziSize }

// ElevationSize returns the elevation extent of the virtual grid.
func (l *Layout) ElevationSize() int { return l.eleSize }

// Slots returns the TDM slot count per cycle.
func (l *Layout) Slots() int { return len(l.TDMOrder) }

// VirtualIndex returns the dense grid index of a virtual position.
func (l *Layout) VirtualIndex(p Position) int {
	return p.Elevation*l.aziSize + p.Azimuth
}

// HasOverlap reports whether any two (Tx,Rx) pairs share a virtual
// position.
func (l *Layout) HasOverlap() bool { return l.overlap }

// String summarizes the layout for logs.
func (l *Layout) String() string {
	return fmt.Sprintf("layout{rx=%d tx=%d grid=%dx%d overlap=%v}",
		len(l.Rx), len(l.Tx), l.eleSize, l.aziSize, l.overlap)
}
