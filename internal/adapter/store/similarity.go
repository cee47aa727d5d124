package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"notesrag/internal/domain"
)

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// rankMatches drops matches below threshold, orders the rest by descending
// similarity with ties kept in insertion order, and keeps at most k.
func rankMatches(matches []domain.RetrievalMatch, k int, threshold float64) []domain.RetrievalMatch {
	if k <= 0 {
		return nil
	}
	kept := make([]domain.RetrievalMatch, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Similarity != kept[j].Similarity {
			return kept[i].Similarity > kept[j].Similarity
		}
		return kept[i].InsertOrder < kept[j].InsertOrder
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// validateRecords checks records against the store's model and vector size.
// dimension is learned from the first record when it is still zero.
func validateRecords(records []domain.IndexRecord, model string, dimension *int) error {
	for _, r := range records {
		if r.Document == "" {
			return domain.ConfigError("record without document name")
		}
		if model != "" && r.Model != "" && r.Model != model {
			return domain.IntegrityError("record of %s#%d was embedded with %q, store holds %q", r.Document, r.Sequence, r.Model, model)
		}
		if len(r.Embedding) == 0 {
			return domain.IntegrityError("record %s#%d has no embedding", r.Document, r.Sequence)
		}
		if *dimension == 0 {
			*dimension = len(r.Embedding)
		}
		if len(r.Embedding) != *dimension {
			return domain.IntegrityError("record %s#%d has dimension %d, store holds %d", r.Document, r.Sequence, len(r.Embedding), *dimension)
		}
	}
	return nil
}

// checkReplacement ensures every replacement record belongs to document.
func checkReplacement(document string, records []domain.IndexRecord) error {
	if document == "" {
		return domain.ConfigError("replacement without document name")
	}
	for _, r := range records {
		if r.Document != document {
			return domain.IntegrityError("record of %q cannot replace document %q", r.Document, document)
		}
	}
	return nil
}

// staleSequences returns the sequences in stored that records no longer carry.
func staleSequences(stored []int, records []domain.IndexRecord) []int {
	keep := make(map[int]bool, len(records))
	for _, r := range records {
		keep[r.Sequence] = true
	}
	var stale []int
	for _, seq := range stored {
		if !keep[seq] {
			stale = append(stale, seq)
		}
	}
	return stale
}

func checkQueryDimension(query []float32, dimension int) error {
	if dimension != 0 && len(query) != dimension {
		return domain.IntegrityError("query dimension %d does not match stored dimension %d", len(query), dimension)
	}
	return nil
}

var (
	orderMu   sync.Mutex
	lastOrder uint64
)

// nextInsertOrder returns a strictly increasing stamp for stores that have
// no sequence of their own.
func nextInsertOrder() uint64 {
	orderMu.Lock()
	defer orderMu.Unlock()
	now := uint64(time.Now().UnixNano())
	if now <= lastOrder {
		now = lastOrder + 1
	}
	lastOrder = now
	return now
}
