package partition

import (
	"testing"
)

func TestChunk_ContiguousNonOverlapping(t *testing.T) {
	ids := make([]int64, 0, 1000)
	for i := int64(1); i <= 1000; i++ {
		ids = append(ids, i)
	}

	batches := Chunk(ids, 500)
	if len(batches) != 2 {
		t.Fatalf("Chunk produced %d batches, want 2", len(batches))
	}
	if batches[0].Min != 1 || batches[0].Max != 500 {
		t.Errorf("first batch range = [%d, %d], want [1, 500]", batches[0].Min, batches[0].Max)
	}
	if batches[1].Min != 501 || batches[1].Max != 1000 {
		t.Errorf("second batch range = [%d, %d], want [501, 1000]", batches[1].Min, batches[1].Max)
	}
	if batches[0].Max >= batches[1].Min {
		t.Errorf("batches overlap: %d >= %d", batches[0].Max, batches[1].Min)
	}
}

func TestChunk_RemainderAndEmpty(t *testing.T) {
	if got := Chunk(nil, 10); got != nil {
		t.Errorf("Chunk(nil) = %v, want nil", got)
	}

	batches := Chunk([]int64{2, 4, 6, 8, 10}, 2)
	if len(batches) != 3 {
		t.Fatalf("Chunk produced %d batches, want 3", len(batches))
	}
	if last := batches[2]; last.Len() != 1 || last.Min != 10 || last.Max != 10 {
		t.Errorf("last batch = %+v, want single id 10", last)
	}
}

func TestChunk_AppendDoesNotBleedIntoNextBatch(t *testing.T) {
	batches := Chunk([]int64{1, 2, 3, 4}, 2)
	_ = append(batches[0].IDs, 99)
	if batches[1].IDs[0] != 3 {
		t.Errorf("second batch was overwritten: %v", batches[1].IDs)
	}
}

func TestSortUnique(t *testing.T) {
	got := SortUnique([]int64{5, 1, 3, 5, 1, 9})
	want := []int64{1, 3, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("SortUnique = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortUnique = %v, want %v", got, want)
		}
	}
}
