// Package tensor provides the dense float64 values moved by the
// communication layer: axis-labelled storage, the slicing/concatenation
// needed for scatter and gather, and the elementwise merges needed for
// all-reduce.
package tensor

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cs426.yale.edu/hetr/axes"
)

// Tensor is a dense row-major value with named axes.
type Tensor struct {
	Axes axes.Axes
	Data []float64
}

// New wraps data with the given axes. The data length must match the axes.
func New(a axes.Axes, data []float64) (*Tensor, error) {
	if len(data) != a.Size() {
		return nil, errors.Errorf(
			"tensor: data length %d does not match axes size %d", len(data), a.Size())
	}
	return &Tensor{Axes: a, Data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(a axes.Axes) *Tensor {
	return &Tensor{Axes: a, Data: make([]float64, a.Size())}
}

// Scalar wraps a single value with no axes.
func Scalar(v float64) *Tensor {
	return &Tensor{Axes: axes.Axes{}, Data: []float64{v}}
}

// Clone copies the tensor. Senders clone before handing a buffer to a
// transport so the original may be reused immediately.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Axes: cloneAxes(t.Axes), Data: data}
}

func cloneAxes(a axes.Axes) axes.Axes {
	out := make(axes.Axes, len(a))
	copy(out, a)
	return out
}

// strides returns the row-major stride of each axis.
func (t *Tensor) strides() []int {
	s := make([]int, len(t.Axes))
	acc := 1
	for i := len(t.Axes) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= t.Axes[i].Length
	}
	return s
}

// Slice copies out the region described by one range per axis.
func (t *Tensor) Slice(rs []axes.Range) (*Tensor, error) {
	if len(rs) != len(t.Axes) {
		return nil, errors.Errorf(
			"tensor: %d slice ranges for %d axes", len(rs), len(t.Axes))
	}
	outAxes := make(axes.Axes, len(t.Axes))
	for i, r := range rs {
		if r.Start < 0 || r.Stop > t.Axes[i].Length || r.Start > r.Stop {
			return nil, errors.Errorf(
				"tensor: range [%d,%d) out of bounds for axis %s of length %d",
				r.Start, r.Stop, t.Axes[i].Name, t.Axes[i].Length)
		}
		outAxes[i] = axes.Make(t.Axes[i].Name, r.Len())
	}
	out := Zeros(outAxes)
	srcStrides := t.strides()
	dstStrides := out.strides()

	var walk func(dim, srcOff, dstOff int)
	walk = func(dim, srcOff, dstOff int) {
		if dim == len(rs) {
			out.Data[dstOff] = t.Data[srcOff]
			return
		}
		for i := rs[dim].Start; i < rs[dim].Stop; i++ {
			walk(dim+1,
				srcOff+i*srcStrides[dim],
				dstOff+(i-rs[dim].Start)*dstStrides[dim])
		}
	}
	if out.Axes.Size() > 0 {
		walk(0, 0, 0)
	}
	return out, nil
}

// Concat joins shards along the named axis, in the order given. All shards
// must agree on every other axis. This is the gather-side inverse of Slice
// over a scatter slice table.
func Concat(axisName string, parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensor: concat of zero parts")
	}
	dim := parts[0].Axes.Index(axisName)
	if dim < 0 {
		return nil, errors.Errorf("tensor: concat axis %s not found", axisName)
	}
	total := 0
	for _, p := range parts {
		if len(p.Axes) != len(parts[0].Axes) {
			return nil, errors.New("tensor: concat rank mismatch")
		}
		for i := range p.Axes {
			if i != dim && p.Axes[i] != parts[0].Axes[i] {
				return nil, errors.Errorf(
					"tensor: concat shards disagree on axis %s", p.Axes[i].Name)
			}
		}
		total += p.Axes[dim].Length
	}
	outAxes := cloneAxes(parts[0].Axes)
	outAxes[dim].Length = total
	out := Zeros(outAxes)

	offset := 0
	for _, p := range parts {
		if err := copyInto(out, p, dim, offset); err != nil {
			return nil, err
		}
		offset += p.Axes[dim].Length
	}
	return out, nil
}

func copyInto(dst, src *Tensor, dim, offset int) error {
	dstStrides := dst.strides()
	srcStrides := src.strides()
	var walk func(d, srcOff, dstOff int)
	walk = func(d, srcOff, dstOff int) {
		if d == len(src.Axes) {
			dst.Data[dstOff] = src.Data[srcOff]
			return
		}
		shift := 0
		if d == dim {
			shift = offset
		}
		for i := 0; i < src.Axes[d].Length; i++ {
			walk(d+1, srcOff+i*srcStrides[d], dstOff+(i+shift)*dstStrides[d])
		}
	}
	if src.Axes.Size() > 0 {
		walk(0, 0, 0)
	}
	return nil
}

// Add returns t + other elementwise.
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	return t.zipWith(other, func(a, b float64) float64 { return a + b })
}

// Sub returns t - other elementwise.
func (t *Tensor) Sub(other *Tensor) (*Tensor, error) {
	return t.zipWith(other, func(a, b float64) float64 { return a - b })
}

// zipWith applies f elementwise. A single-element operand on either side is
// broadcast against the other.
func (t *Tensor) zipWith(other *Tensor, f func(a, b float64) float64) (*Tensor, error) {
	switch {
	case len(other.Data) == 1:
		out := Zeros(t.Axes)
		for i := range t.Data {
			out.Data[i] = f(t.Data[i], other.Data[0])
		}
		return out, nil
	case len(t.Data) == 1:
		out := Zeros(other.Axes)
		for i := range other.Data {
			out.Data[i] = f(t.Data[0], other.Data[i])
		}
		return out, nil
	case len(t.Data) != len(other.Data):
		return nil, errors.Errorf(
			"tensor: size mismatch %d vs %d", len(t.Data), len(other.Data))
	}
	out := Zeros(t.Axes)
	for i := range t.Data {
		out.Data[i] = f(t.Data[i], other.Data[i])
	}
	return out, nil
}

// AddScalar returns t + v elementwise.
func (t *Tensor) AddScalar(v float64) *Tensor {
	out := Zeros(t.Axes)
	for i, x := range t.Data {
		out.Data[i] = x + v
	}
	return out
}

// Scale returns t * v elementwise.
func (t *Tensor) Scale(v float64) *Tensor {
	out := Zeros(t.Axes)
	for i, x := range t.Data {
		out.Data[i] = x * v
	}
	return out
}

// Dense views a rank-2 tensor as a gonum matrix. The data is shared.
func (t *Tensor) Dense() (*mat.Dense, error) {
	if len(t.Axes) != 2 {
		return nil, errors.Errorf("tensor: rank %d value is not a matrix", len(t.Axes))
	}
	return mat.NewDense(t.Axes[0].Length, t.Axes[1].Length, t.Data), nil
}

// FromDense wraps a gonum matrix with row and column axes.
func FromDense(m *mat.Dense, row, col string) *Tensor {
	raw := m.RawMatrix()
	data := make([]float64, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		copy(data[i*raw.Cols:(i+1)*raw.Cols], raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols])
	}
	return &Tensor{
		Axes: axes.MakeAxes(axes.Make(row, raw.Rows), axes.Make(col, raw.Cols)),
		Data: data,
	}
}

// Dot multiplies two rank-2 tensors. The inner axes must agree in length;
// the result carries t's row axis and other's column axis.
func (t *Tensor) Dot(other *Tensor) (*Tensor, error) {
	a, err := t.Dense()
	if err != nil {
		return nil, err
	}
	b, err := other.Dense()
	if err != nil {
		return nil, err
	}
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != rb {
		return nil, errors.Errorf(
			"tensor: incompatible dot dimensions: %d columns vs %d rows", ca, rb)
	}
	result := mat.NewDense(ra, cb, nil)
	result.Mul(a, b)
	out := FromDense(result, t.Axes[0].Name, other.Axes[1].Name)
	return out, nil
}

// Equal reports exact equality of axes and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.Axes.Equal(other.Axes) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
