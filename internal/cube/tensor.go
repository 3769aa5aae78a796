// Package cube holds the dense complex tensor types that flow through the
// radar processing pipeline: raw ADC frames, calibrated frames, and the
// generic N-dimensional tensor the FFT stages operate on.
package cube

import "fmt"

// Canonical dimension names used by the standard radar cube layout.
// Processing stages refer to dimensions by name so that stage configuration
// survives dimension reordering and collapse.
const (
	DimSample         = "sample"
	DimChirp          = "chirp"
	DimVirtualAntenna = "virtualantenna"
)

// Dimension is one named axis of a Tensor.
type Dimension struct {
	Name string
	Size int
}

// Tensor is a dense row-major complex tensor with named dimensions.
// The last declared dimension varies fastest.
type Tensor struct {
	dims []Dimension
	data []complex64
}

// NewTensor allocates a zeroed tensor with the given dimensions.
func NewTensor(dims ...Dimension) *Tensor {
	n := 1
	for _, d := range dims {
		if d.Size <= 0 {
			panic(fmt.Sprintf("cube: non-positive size %d for dimension %q", d.Size, d.Name))
		}
		n *= d.Size
	}
	return &Tensor{
		dims: append([]Dimension(nil), dims...),
		data: make([]complex64, n),
	}
}

// NewTensorFrom wraps an existing backing slice. The slice length must match
// the product of the dimension sizes.
func NewTensorFrom(data []complex64, dims ...Dimension) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d.Size
	}
	if len(data) != n {
		panic(fmt.Sprintf("cube: data length %d does not match dimensions (want %d)", len(data), n))
	}
	return &Tensor{dims: append([]Dimension(nil), dims...), data: data}
}

// Dims returns a copy of the tensor's dimensions.
func (t *Tensor) Dims() []Dimension {
	return append([]Dimension(nil), t.dims...)
}

// NumDims returns the number of dimensions.
func (t *Tensor) NumDims() int { return len(t.dims) }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the backing slice. Callers must treat completed pipeline
// outputs as read-only.
func (t *Tensor) Data() []complex64 { return t.data }

// DimIndex returns the axis index of the named dimension.
func (t *Tensor) DimIndex(name string) (int, bool) {
	for i, d := range t.dims {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}

// DimSize returns the size of the named dimension, or 0 if absent.
func (t *Tensor) DimSize(name string) int {
	if i, ok := t.DimIndex(name); ok {
		return t.dims[i].Size
	}
	return 0
}

// stride returns the element stride of axis d.
func (t *Tensor) stride(d int) int {
	s := 1
	for i := d + 1; i < len(t.dims); i++ {
		s *= t.dims[i].Size
	}
	return s
}

// At returns the element at the given indices, one per dimension.
func (t *Tensor) At(indices ...int) complex64 {
	return t.data[t.offset(indices)]
}

// Set stores v at the given indices.
func (t *Tensor) Set(v complex64, indices ...int) {
	t.data[t.offset(indices)] = v
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.dims) {
		panic(fmt.Sprintf("cube: got %d indices for %d dimensions", len(indices), len(t.dims)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.dims[i].Size {
			panic(fmt.Sprintf("cube: index %d out of range for dimension %q (size %d)", idx, t.dims[i].Name, t.dims[i].Size))
		}
		off = off*t.dims[i].Size + idx
	}
	return off
}

// NumLines returns how many one-dimensional lines run along axis d.
func (t *Tensor) NumLines(d int) int {
	if t.dims[d].Size == 0 {
		return 0
	}
	return len(t.data) / t.dims[d].Size
}

// lineBase computes the base offset of the given line along axis d. Lines
// are enumerated with the inner (higher-stride-index) dimensions fastest.
func (t *Tensor) lineBase(d, line int) int {
	inner := t.stride(d)
	outer := line / inner
	rem := line % inner
	return outer*inner*t.dims[d].Size + rem
}

// Line copies the given line along axis d into dst, which must have length
// of at least the axis size. It returns the filled prefix of dst.
func (t *Tensor) Line(d, line int, dst []complex64) []complex64 {
	n := t.dims[d].Size
	base := t.lineBase(d, line)
	stride := t.stride(d)
	for i := 0; i < n; i++ {
		dst[i] = t.data[base+i*stride]
	}
	return dst[:n]
}

// SetLine writes src as the given line along axis d. len(src) must equal the
// axis size.
func (t *Tensor) SetLine(d, line int, src []complex64) {
	base := t.lineBase(d, line)
	stride := t.stride(d)
	for i, v := range src {
		t.data[base+i*stride] = v
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.dims...)
	copy(c.data, t.data)
	return c
}
