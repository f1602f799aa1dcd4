package tensor

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/axes"
)

// Encode serializes a tensor as little-endian bytes: an int32 rank, one
// int32 length per axis, then the raw float64 data. Axis names are not part
// of the wire format; both endpoints of a channel already agree on them.
func Encode(t *Tensor) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(t.Axes))); err != nil {
		return nil, err
	}
	for _, ax := range t.Axes {
		if err := binary.Write(buf, binary.LittleEndian, int32(ax.Length)); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, t.Data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWithNames reconstructs a tensor taking axis lengths from the wire
// and attaching the given names positionally. Remote workers use this: a
// replica may hold a shard whose lengths differ from the declared axes,
// while rank and axis order never change.
func DecodeWithNames(data []byte, names []string) (*Tensor, error) {
	buf := bytes.NewReader(data)

	var rank int32
	if err := binary.Read(buf, binary.LittleEndian, &rank); err != nil {
		return nil, errors.Wrap(err, "tensor: reading rank")
	}
	if int(rank) != len(names) {
		return nil, errors.Errorf(
			"tensor: encoded rank %d does not match %d axis names", rank, len(names))
	}
	a := make(axes.Axes, rank)
	for i := range a {
		var length int32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "tensor: reading length of axis %d", i)
		}
		a[i] = axes.Make(names[i], int(length))
	}
	out := Zeros(a)
	if err := binary.Read(buf, binary.LittleEndian, out.Data); err != nil {
		return nil, errors.Wrap(err, "tensor: reading data")
	}
	return out, nil
}

// Decode reconstructs a tensor, attaching the axes the receiver expects.
// The encoded dimensions must match those axes exactly.
func Decode(data []byte, a axes.Axes) (*Tensor, error) {
	buf := bytes.NewReader(data)

	var rank int32
	if err := binary.Read(buf, binary.LittleEndian, &rank); err != nil {
		return nil, errors.Wrap(err, "tensor: reading rank")
	}
	if int(rank) != len(a) {
		return nil, errors.Errorf(
			"tensor: encoded rank %d does not match expected %d", rank, len(a))
	}
	for i := range a {
		var length int32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "tensor: reading length of axis %d", i)
		}
		if int(length) != a[i].Length {
			return nil, errors.Errorf(
				"tensor: encoded axis %s has length %d, expected %d",
				a[i].Name, length, a[i].Length)
		}
	}
	out := Zeros(a)
	if err := binary.Read(buf, binary.LittleEndian, out.Data); err != nil {
		return nil, errors.Wrap(err, "tensor: reading data")
	}
	return out, nil
}
