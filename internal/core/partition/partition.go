package partition

import "sort"

// Batch is a contiguous slice of a sorted id set.
// Min/Max let aggregation queries add a BETWEEN pre-filter next to id = ANY(...).
type Batch struct {
	IDs []int64
	Min int64
	Max int64
}

// Len returns the number of ids in the batch.
func (b Batch) Len() int { return len(b.IDs) }

// SortUnique sorts ids ascending and removes duplicates in place.
func SortUnique(ids []int64) []int64 {
	if len(ids) == 0 {
		return ids
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// Chunk partitions a sorted, de-duplicated id set into batches of at most size ids.
// Batches never overlap and their id ranges are ascending.
func Chunk(sorted []int64, size int) []Batch {
	if size <= 0 {
		size = len(sorted)
	}
	if len(sorted) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(sorted)+size-1)/size)
	for start := 0; start < len(sorted); start += size {
		end := start + size
		if end > len(sorted) {
			end = len(sorted)
		}
		ids := sorted[start:end:end]
		batches = append(batches, Batch{IDs: ids, Min: ids[0], Max: ids[len(ids)-1]})
	}
	return batches
}
