// Package axes models named, lengthed tensor dimensions and the axis
// arithmetic needed to shard a tensor across a device set.
package axes

import "github.com/pkg/errors"

// Axis is one named tensor dimension.
type Axis struct {
	Name   string
	Length int
}

// Axes is an ordered list of dimensions. The order is significant: it is the
// storage order of the tensor data.
type Axes []Axis

func Make(name string, length int) Axis {
	return Axis{Name: name, Length: length}
}

func MakeAxes(axs ...Axis) Axes {
	out := make(Axes, len(axs))
	copy(out, axs)
	return out
}

// Lengths returns the dimension lengths in order.
func (a Axes) Lengths() []int {
	out := make([]int, len(a))
	for i, ax := range a {
		out[i] = ax.Length
	}
	return out
}

// Size is the total element count.
func (a Axes) Size() int {
	n := 1
	for _, ax := range a {
		n *= ax.Length
	}
	return n
}

// Index returns the position of the axis with the given name, or -1.
func (a Axes) Index(name string) int {
	for i, ax := range a {
		if ax.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether an axis with the given name is present.
func (a Axes) Has(name string) bool {
	return a.Index(name) >= 0
}

// Equal reports whether two axis lists match in order, name and length.
func (a Axes) Equal(b Axes) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a Axes) clone() Axes {
	out := make(Axes, len(a))
	copy(out, a)
	return out
}

// ScatterAxes divides the parallel axis length across numDevices shards.
// The length must divide evenly; a remainder is a configuration error on
// this path. A nil parallel axis returns the axes unchanged.
func ScatterAxes(a Axes, parallel *Axis, numDevices int) (Axes, error) {
	if a == nil {
		return nil, errors.New("axes: nil axes for scatter")
	}
	if numDevices == 0 {
		return nil, ErrZeroShards
	}
	out := a.clone()
	if parallel == nil {
		return out, nil
	}
	i := out.Index(parallel.Name)
	if i < 0 {
		return out, nil
	}
	if out[i].Length%numDevices != 0 {
		return nil, errors.Errorf(
			"axes: axis %s length %d not divisible by %d devices",
			out[i].Name, out[i].Length, numDevices)
	}
	out[i].Length /= numDevices
	return out, nil
}

// GatherAxes is the inverse of ScatterAxes: the parallel axis length is
// multiplied by the shard count.
func GatherAxes(a Axes, parallel *Axis, numDevices int) (Axes, error) {
	if a == nil {
		return nil, errors.New("axes: nil axes for gather")
	}
	if numDevices == 0 {
		return nil, ErrZeroShards
	}
	out := a.clone()
	if parallel == nil {
		return out, nil
	}
	if i := out.Index(parallel.Name); i >= 0 {
		out[i].Length *= numDevices
	}
	return out, nil
}
