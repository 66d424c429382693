package retrieval

import (
	"container/heap"
	"math"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|). Vectors of different
// length, or with zero norm, have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	an := norm(a)
	if an == 0 {
		return 0
	}
	return dotProduct(a, b, an)
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	sim := dot / (aNorm * bNorm)
	// Rounding can push identical vectors just past 1.
	return math.Max(-1, math.Min(1, sim))
}

// ranksBelow orders chunks for ranking: lower similarity first, and on a
// tie the later (document ID, index) position ranks lower.
func ranksBelow(a, b ScoredChunk) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID > b.DocumentID
	}
	return a.Index > b.Index
}

// scoredHeap is a min-heap of ScoredChunk whose root is the weakest
// candidate kept so far.
type scoredHeap []ScoredChunk

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return ranksBelow(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredChunk)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK returns the k best candidates, best first.
func topK(candidates []ScoredChunk, k int) []ScoredChunk {
	if k <= 0 {
		return nil
	}
	h := &scoredHeap{}
	heap.Init(h)
	for _, c := range candidates {
		if h.Len() < k {
			heap.Push(h, c)
		} else if ranksBelow((*h)[0], c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	out := make([]ScoredChunk, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ScoredChunk)
	}
	return out
}
