package sampler

import "fmt"

// Unbounded is the capacity of a Batch that never fills, used for the
// cumulative processed collection.
const Unbounded = 0

// Batch is an ordered, capacity-bounded collection of Coordinates. Items are
// stored as value copies; insertion order is preserved.
type Batch struct {
	items    []Coordinate
	capacity int
}

// NewBatch returns an empty batch. A capacity of Unbounded disables the limit.
func NewBatch(capacity int) (*Batch, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("batch capacity must be >= 0, got %d", capacity)
	}
	return &Batch{capacity: capacity}, nil
}

// Add appends a copy of c, failing with CapacityExceededError when full.
func (b *Batch) Add(c Coordinate) error {
	if b.IsFull() {
		return &CapacityExceededError{Capacity: b.capacity}
	}
	b.items = append(b.items, c.Clone())
	return nil
}

// IsFull reports whether the batch holds capacity items.
func (b *Batch) IsFull() bool {
	return b.capacity != Unbounded && len(b.items) >= b.capacity
}

// Len returns the number of items.
func (b *Batch) Len() int { return len(b.items) }

// Capacity returns the configured capacity (Unbounded for none).
func (b *Batch) Capacity() int { return b.capacity }

// Item returns the batch-owned coordinate at i for in-place enrichment.
func (b *Batch) Item(i int) *Coordinate {
	return &b.items[i]
}

// Items returns copies of all items in order.
func (b *Batch) Items() []Coordinate {
	out := make([]Coordinate, len(b.items))
	for i, c := range b.items {
		out[i] = c.Clone()
	}
	return out
}

// Merge appends every item of other, preserving order. The merge is all or
// nothing: if other does not fit, b is left unchanged.
func (b *Batch) Merge(other *Batch) error {
	if other == nil || len(other.items) == 0 {
		return nil
	}
	if b.capacity != Unbounded && len(b.items)+len(other.items) > b.capacity {
		return &CapacityExceededError{Capacity: b.capacity}
	}
	for _, c := range other.items {
		b.items = append(b.items, c.Clone())
	}
	return nil
}

// Clear empties the batch, keeping its capacity.
func (b *Batch) Clear() {
	b.items = nil
}

// Clone returns an independent copy of the batch.
func (b *Batch) Clone() *Batch {
	out := &Batch{capacity: b.capacity}
	if len(b.items) > 0 {
		out.items = b.Items()
	}
	return out
}
