package virtualarray

import (
	"fmt"

	"github.com/banshee-data/mmwave.capture/internal/cube"
)

// VirtualArray is the reorganized radar cube: a dense tensor indexed by
// [virtualantenna, chirp, sample], where the chirp axis now counts TDM
// loops and the virtual antenna axis is the flattened elevation x azimuth
// grid. Occupied marks grid positions that received data; sparse layouts
// leave holes at zero.
type VirtualArray struct {
	*cube.Tensor

	AzimuthSize   int
	ElevationSize int
	Loops         int
	Samples       int
	Occupied      []bool
}

// Build reorganizes a calibrated frame into the virtual array declared by
// the layout. The virtual antenna ordering is fully determined by the
// layout: identical inputs always produce identical tensors, which keeps
// downstream angle computations and calibration vectors valid.
func Build(cal *cube.CalibratedFrame, layout *Layout) (*VirtualArray, error) {
	if cal.Channels != len(layout.Rx) {
		return nil, &LayoutMismatchError{
			Reason: fmt.Sprintf("frame has %d receive channels but layout declares %d rx antennas",
				cal.Channels, len(layout.Rx)),
		}
	}
	slots := layout.Slots()
	if cal.Chirps%slots != 0 {
		return nil, &LayoutMismatchError{
			Reason: fmt.Sprintf("frame chirp count %d is not a multiple of the %d-slot TDM cycle",
				cal.Chirps, slots),
		}
	}
	loops := cal.Chirps / slots
	if slots > cal.Chirps {
		return nil, &LayoutMismatchError{
			Reason: fmt.Sprintf("TDM slot count %d exceeds frame chirp count %d", slots, cal.Chirps),
		}
	}

	nv := layout.AzimuthSize() * layout.ElevationSize()
	va := &VirtualArray{
		Tensor: cube.NewTensor(
			cube.Dimension{Name: cube.DimVirtualAntenna, Size: nv},
			cube.Dimension{Name: cube.DimChirp, Size: loops},
			cube.Dimension{Name: cube.DimSample, Size: cal.Samples},
		),
		AzimuthSize:   layout.AzimuthSize(),
		ElevationSize: layout.ElevationSize(),
		Loops:         loops,
		Samples:       cal.Samples,
		Occupied:      make([]bool, nv),
	}
	counts := make([]int, nv)
	data := va.Data()
	lineLen := loops * cal.Samples

	for slot := 0; slot < slots; slot++ {
		tx := layout.Tx[layout.TDMOrder[slot]]
		for r, rx := range layout.Rx {
			pos := layout.VirtualIndex(Position{
				Azimuth:   tx.Azimuth + rx.Azimuth,
				Elevation: tx.Elevation + rx.Elevation,
			})
			if va.Occupied[pos] && layout.Policy == KeepFirst {
				continue
			}
			base := pos * lineLen
			for loop := 0; loop < loops; loop++ {
				src := cal.ChirpChannel(loop*slots+slot, r)
				dst := data[base+loop*cal.Samples : base+(loop+1)*cal.Samples]
				if counts[pos] == 0 {
					copy(dst, src)
				} else {
					for i, v := range src {
						dst[i] += v
					}
				}
			}
			counts[pos]++
			va.Occupied[pos] = true
		}
	}

	if layout.Policy == Average {
		for pos, n := range counts {
			if n <= 1 {
				continue
			}
			inv := complex(1/float32(n), 0)
			base := pos * lineLen
			for i := base; i < base+lineLen; i++ {
				data[i] *= inv
			}
		}
	}
	return va, nil
}
