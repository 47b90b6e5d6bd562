package docstore

import (
	"fmt"
	"math"
	"slices"
)

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Vectors of different length, or with zero magnitude, score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CheckDimensions returns an error when len(vec) != want.
func CheckDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("vector has %d dimensions, want %d", len(vec), want)
	}
	return nil
}

// RankByCosine scores every candidate against vec, sorts by descending score
// (stable, so equal scores keep candidate order) and keeps at most k. It is
// the shared brute-force search used by the in-process and SQLite backends.
// Candidates without an embedding of matching length are skipped.
func RankByCosine(candidates []Document, vec []float32, k int) []ScoredDocument {
	if k <= 0 {
		return []ScoredDocument{}
	}
	scored := make([]ScoredDocument, 0, len(candidates))
	for _, doc := range candidates {
		emb := EmbeddingOf(doc)
		if len(emb) != len(vec) {
			continue
		}
		scored = append(scored, ScoredDocument{Document: doc, Score: CosineSimilarity(vec, emb)})
	}
	slices.SortStableFunc(scored, func(a, b ScoredDocument) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// MatchesFilter reports whether doc satisfies every non-zero field of f.
func MatchesFilter(doc Document, f Filter) bool {
	if f.CampaignID != "" && doc.Campaign() != f.CampaignID {
		return false
	}
	if f.Type != "" && TypeTag(doc) != f.Type {
		return false
	}
	return true
}
