package axes

import "github.com/pkg/errors"

// ErrZeroShards is returned when an axis is partitioned across zero devices.
var ErrZeroShards = errors.New("axes: partition across zero shards")

// Range is a half-open [Start, Stop) slice of one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of elements covered by the range.
func (r Range) Len() int { return r.Stop - r.Start }

// Full covers an entire axis of the given length.
func Full(length int) Range { return Range{Start: 0, Stop: length} }

// Partition splits [0, length) into numShards equal ranges. The length must
// divide evenly; a remainder is a configuration error on this path.
func Partition(length, numShards int) ([]Range, error) {
	if numShards == 0 {
		return nil, ErrZeroShards
	}
	if length%numShards != 0 {
		return nil, errors.Errorf(
			"axes: length %d not divisible by %d shards", length, numShards)
	}
	return PartitionWithRemainder(length, numShards)
}

// PartitionWithRemainder splits [0, length) into numShards ranges of
// length/numShards elements each, with any remainder appended to the last
// shard. Ranges are returned in shard-index order.
func PartitionWithRemainder(length, numShards int) ([]Range, error) {
	if numShards == 0 {
		return nil, ErrZeroShards
	}
	per := length / numShards
	out := make([]Range, numShards)
	for i := range out {
		out[i] = Range{Start: i * per, Stop: (i + 1) * per}
	}
	out[numShards-1].Stop += length % numShards
	return out, nil
}

// Slices builds the per-destination slice table for scattering a tensor with
// the given axes along the parallel axis across numDevices shards: one
// []Range per destination, covering every axis in order. Axes other than the
// parallel axis get their full range. A nil or absent parallel axis yields
// the identity table: every destination sees the whole tensor.
//
// The parallel axis uses the permissive remainder policy (remainder on the
// last shard), matching PartitionWithRemainder.
func Slices(a Axes, parallel *Axis, numDevices int) ([][]Range, error) {
	if numDevices == 0 {
		return nil, ErrZeroShards
	}
	var parts []Range
	par := -1
	if parallel != nil {
		par = a.Index(parallel.Name)
	}
	if par >= 0 {
		var err error
		parts, err = PartitionWithRemainder(a[par].Length, numDevices)
		if err != nil {
			return nil, err
		}
	}
	table := make([][]Range, numDevices)
	for i := range table {
		slices := make([]Range, len(a))
		for j, ax := range a {
			if j == par {
				slices[j] = parts[i]
			} else {
				slices[j] = Full(ax.Length)
			}
		}
		table[i] = slices
	}
	return table, nil
}
