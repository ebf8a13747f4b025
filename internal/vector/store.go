package vector

import (
	"runtime"
	"sort"
	"sync"
)

// Add appends one (id, vector, payload) entry. Existing ids are updated
// in place rather than duplicated, matching the teacher's update-by-scan
// semantics, but lookup is an O(1) map hit rather than a linear scan.
func (idx *Index[T]) Add(id string, v Vector, payload T) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.cfg.Dimension == 0 {
		idx.cfg.Dimension = len(v)
	} else if len(v) != idx.cfg.Dimension {
		return ErrDimensionMismatch
	}

	if pos, ok := idx.byID[id]; ok {
		idx.entries[pos].vector = v
		idx.entries[pos].payload = payload
		return nil
	}

	idx.seq++
	idx.entries = append(idx.entries, entry[T]{
		id:           id,
		vector:       v,
		payload:      payload,
		insertionSeq: idx.seq,
	})
	idx.byID[id] = len(idx.entries) - 1
	return nil
}

// AddBatch adds multiple entries by calling Add for each in turn (each
// call takes the lock separately), stopping at the first error.
func (idx *Index[T]) AddBatch(ids []string, vectors []Vector, payloads []T) error {
	for i := range ids {
		if err := idx.Add(ids[i], vectors[i], payloads[i]); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns a shallow copy of the current entries slice. Because
// entries are only ever appended or updated-in-place (never removed
// individually) under idx.mu, callers iterating the returned slice see a
// consistent prefix of the index as of this call, satisfying the "readers
// see a snapshot" requirement without holding the lock during scoring.
func (idx *Index[T]) snapshot() []entry[T] {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]entry[T], len(idx.entries))
	copy(out, idx.entries)
	return out
}

// parallelScoreThreshold is the index size at or above which Search may
// fan scoring out across worker goroutines (§4.3: "MAY parallelize
// scoring across worker threads" when size >= 100).
const parallelScoreThreshold = 100

// Search scores query against every stored vector, discards entries below
// minScore, sorts descending (ties broken by insertion order), and
// returns the first topK as ranked Results.
func (idx *Index[T]) Search(query Vector, topK int, minScore float32) ([]Result[T], error) {
	if len(query) == 0 {
		return nil, ErrEmptyVector
	}

	entries := idx.snapshot()
	if len(entries) > 0 && len(query) != len(entries[0].vector) {
		return nil, ErrDimensionMismatch
	}

	scores := make([]float32, len(entries))
	scoreFn := CosineSimilarity
	if idx.cfg.EnableSIMD && simdAvailable() {
		scoreFn = CosineSimilaritySIMD
	}

	if len(entries) >= parallelScoreThreshold {
		scoreParallel(entries, query, scores, scoreFn)
	} else {
		for i, e := range entries {
			scores[i] = scoreFn(query, e.vector)
		}
	}

	type scored struct {
		idx   int
		score float32
	}
	filtered := make([]scored, 0, len(entries))
	for i, s := range scores {
		if s >= minScore {
			filtered = append(filtered, scored{idx: i, score: s})
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].score != filtered[j].score {
			return filtered[i].score > filtered[j].score
		}
		return entries[filtered[i].idx].insertionSeq < entries[filtered[j].idx].insertionSeq
	})

	if topK > 0 && len(filtered) > topK {
		filtered = filtered[:topK]
	}

	results := make([]Result[T], len(filtered))
	for i, f := range filtered {
		e := entries[f.idx]
		results[i] = Result[T]{
			ID:      e.id,
			Payload: e.payload,
			Score:   f.score,
			Rank:    i + 1,
		}
	}
	return results, nil
}

func scoreParallel(entries []entry[T], query Vector, scores []float32, scoreFn func(a, b Vector) float32) {
	workers := runtime.GOMAXPROCS(0)
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers < 1 {
		workers = 1
	}

	chunk := (len(entries) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(entries) {
			break
		}
		end := start + chunk
		if end > len(entries) {
			end = len(entries)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				scores[i] = scoreFn(query, entries[i].vector)
			}
		}(start, end)
	}
	wg.Wait()
}

// Get returns the entry stored under id, if any.
func (idx *Index[T]) Get(id string) (Vector, T, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var zero T
	pos, ok := idx.byID[id]
	if !ok {
		return nil, zero, false
	}
	return idx.entries[pos].vector, idx.entries[pos].payload, true
}

// Size returns the current entry count.
func (idx *Index[T]) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Clear empties the index, releasing all entries.
func (idx *Index[T]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	idx.byID = make(map[string]int)
}

// Stats reports current occupancy, approximating memory use from entry
// count and dimension.
func (idx *Index[T]) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Count:      len(idx.entries),
		Dimension:  idx.cfg.Dimension,
		MemoryUsed: int64(len(idx.entries)) * int64(idx.cfg.Dimension) * 4,
	}
}
