// Package gallery holds the enrolled-identity store and the in-memory
// nearest-neighbor index built from it on recognition worker start.
package gallery

import "math"

// Identity is one enrolled target: an opaque id, a display name, and one or
// more reference embeddings captured at enrollment.
type Identity struct {
	TargetID    string
	DisplayName string
	Embeddings  [][]float32
}

// Label identifies which identity a row of the index matrix belongs to.
type Label struct {
	TargetID    string
	DisplayName string
}

// Index is the dense M x D matrix of L2-normalized embeddings built from a
// gallery, parallel to an M-long label slice. It is built once at worker
// start and never mutated afterward.
type Index struct {
	dim    int
	matrix [][]float32 // M rows, each length dim, unit norm within 1e-6
	labels []Label
}

// Build normalizes every embedding of every identity and stacks them, in
// insertion order, into one matrix with a parallel label slice. Identities
// with zero embeddings are skipped silently.
func Build(identities []Identity) *Index {
	idx := &Index{}
	for _, id := range identities {
		if len(id.Embeddings) == 0 {
			continue
		}
		for _, emb := range id.Embeddings {
			if len(emb) == 0 {
				continue
			}
			if idx.dim == 0 {
				idx.dim = len(emb)
			}
			row := normalize(emb)
			idx.matrix = append(idx.matrix, row)
			idx.labels = append(idx.labels, Label{TargetID: id.TargetID, DisplayName: id.DisplayName})
		}
	}
	return idx
}

// Dim returns the embedding dimensionality the index was built with (0 if
// the index is empty).
func (idx *Index) Dim() int { return idx.dim }

// Size returns the number of rows (total enrolled samples across all
// identities).
func (idx *Index) Size() int { return len(idx.matrix) }

// Match finds the nearest enrolled identity to query by cosine similarity
// (a dot product, since both sides are unit-normalized). Ties are broken by
// lowest row index. An empty index or nil query returns (false, "", "", 0).
func (idx *Index) Match(query []float32, threshold float64) (matched bool, targetID, displayName string, similarity float64) {
	if len(idx.matrix) == 0 || query == nil {
		return false, "", "", 0.0
	}

	q := normalize(query)
	best := -1
	bestSim := math.Inf(-1)
	for i, row := range idx.matrix {
		sim := dot(row, q)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	if best < 0 {
		return false, "", "", 0.0
	}

	if bestSim < threshold {
		return false, "", "", bestSim
	}
	label := idx.labels[best]
	return true, label.TargetID, label.DisplayName, bestSim
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq) + 1e-12
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
