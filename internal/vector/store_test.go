package vector

import "testing"

func TestIndexSearchOrdering(t *testing.T) {
	idx := NewIndex[string](Config{EnableSIMD: true})
	_ = idx.Add("chunk_1", Vector{1, 0, 0}, "first")
	_ = idx.Add("chunk_2", Vector{0, 1, 0}, "second")
	_ = idx.Add("chunk_3", Vector{0.707, 0.707, 0}, "third")

	results, err := idx.Search(Vector{0.9, 0.1, 0}, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "chunk_1" || results[1].ID != "chunk_3" || results[2].ID != "chunk_2" {
		t.Fatalf("unexpected order: %v, %v, %v", results[0].ID, results[1].ID, results[2].ID)
	}
	for i := 0; i < len(results); i++ {
		if results[i].Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, results[i].Rank)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score >= results[i-1].Score {
			t.Fatalf("expected strictly decreasing scores")
		}
	}
}

func TestIndexSearchMinScoreFilter(t *testing.T) {
	idx := NewIndex[string](Config{EnableSIMD: true})
	_ = idx.Add("chunk_1", Vector{1, 0, 0}, "first")
	_ = idx.Add("chunk_2", Vector{0, 1, 0}, "second")
	_ = idx.Add("chunk_3", Vector{0.707, 0.707, 0}, "third")

	// chunk_3 scores ~0.7071 and chunk_2 scores 0 against [1,0,0], so a
	// 0.75 threshold leaves only chunk_1.
	results, err := idx.Search(Vector{1, 0, 0}, 3, 0.75)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "chunk_1" {
		t.Fatalf("expected exactly chunk_1, got %v", results)
	}
	for _, r := range results {
		if r.Score < 0.75 {
			t.Fatalf("result below min_score leaked through: %v", r)
		}
	}
}

func TestIndexAddDimensionMismatch(t *testing.T) {
	idx := NewIndex[string](Config{})
	if err := idx.Add("a", Vector{1, 2, 3}, "x"); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if err := idx.Add("b", Vector{1, 2}, "y"); err != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestIndexAddUpdatesInPlace(t *testing.T) {
	idx := NewIndex[string](Config{})
	_ = idx.Add("a", Vector{1, 0, 0}, "v1")
	_ = idx.Add("a", Vector{0, 1, 0}, "v2")
	if idx.Size() != 1 {
		t.Fatalf("expected update-in-place to keep size 1, got %d", idx.Size())
	}
	_, payload, ok := idx.Get("a")
	if !ok || payload != "v2" {
		t.Fatalf("expected updated payload v2, got %v (ok=%v)", payload, ok)
	}
}

func TestIndexClear(t *testing.T) {
	idx := NewIndex[string](Config{})
	_ = idx.Add("a", Vector{1, 0, 0}, "v1")
	idx.Clear()
	if idx.Size() != 0 {
		t.Fatalf("expected empty index after Clear, got size %d", idx.Size())
	}
}

func TestIndexSearchEmptyQuery(t *testing.T) {
	idx := NewIndex[string](Config{})
	if _, err := idx.Search(Vector{}, 5, 0); err != ErrEmptyVector {
		t.Fatalf("expected ErrEmptyVector, got %v", err)
	}
}

func TestIndexParallelScoring(t *testing.T) {
	idx := NewIndex[int](Config{})
	for i := 0; i < 150; i++ {
		_ = idx.Add(string(rune('a'+i%26))+string(rune(i)), Vector{float32(i), 1, 0}, i)
	}
	results, err := idx.Search(Vector{1, 1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results from parallel path, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not sorted descending")
		}
	}
}
