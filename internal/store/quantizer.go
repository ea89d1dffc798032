package store

import (
	"fmt"
	"math"
	"math/rand"
)

// kmeansIterations bounds Lloyd refinement; assignments stabilize well
// before this on embedding data.
const kmeansIterations = 15

// l2sq returns the squared Euclidean distance between equal-length vectors.
func l2sq(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// nearestCentroid returns the index and squared distance of the closest
// centroid to v.
func nearestCentroid(v []float32, centroids [][]float32) (int, float32) {
	best := 0
	bestDist := float32(math.MaxFloat32)
	for i, c := range centroids {
		if d := l2sq(v, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// kmeans runs Lloyd's algorithm and returns k centroids. Requires
// len(data) >= k. Empty clusters are reseeded from random points so the
// codebook never degenerates.
func kmeans(data [][]float32, k int, rng *rand.Rand) ([][]float32, error) {
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", k)
	}
	if len(data) < k {
		return nil, fmt.Errorf("kmeans: need at least %d points, got %d", k, len(data))
	}
	dim := len(data[0])

	centroids := make([][]float32, k)
	for i, idx := range rng.Perm(len(data))[:k] {
		centroids[i] = append([]float32(nil), data[idx]...)
	}

	assign := make([]int, len(data))
	counts := make([]int, k)
	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, v := range data {
			c, _ := nearestCentroid(v, centroids)
			if assign[i] != c || iter == 0 {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		for i := range sums {
			counts[i] = 0
			for j := range sums[i] {
				sums[i][j] = 0
			}
		}
		for i, v := range data {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				centroids[c] = append([]float32(nil), data[rng.Intn(len(data))]...)
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = float32(sums[c][j] / float64(counts[c]))
			}
		}
	}

	return centroids, nil
}

// pqCodebookSize is the per-subquantizer codebook size (8-bit codes).
const pqCodebookSize = 256

// productQuantizer encodes vectors as m bytes, one codebook index per
// subvector of dsub = dim/m components.
type productQuantizer struct {
	M    int
	Dsub int
	// Codebooks is m codebooks of up to 256 centroids each.
	Codebooks [][][]float32
}

// trainPQ fits codebooks on the given (residual) vectors.
func trainPQ(data [][]float32, m int, rng *rand.Rand) (*productQuantizer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pq: no training data")
	}
	dim := len(data[0])
	if dim%m != 0 {
		return nil, fmt.Errorf("pq: %d subquantizers do not divide dimension %d", m, dim)
	}
	dsub := dim / m

	k := pqCodebookSize
	if len(data) < k {
		k = len(data)
	}

	pq := &productQuantizer{M: m, Dsub: dsub, Codebooks: make([][][]float32, m)}
	sub := make([][]float32, len(data))
	for s := 0; s < m; s++ {
		lo, hi := s*dsub, (s+1)*dsub
		for i, v := range data {
			sub[i] = v[lo:hi]
		}
		cb, err := kmeans(sub, k, rng)
		if err != nil {
			return nil, fmt.Errorf("pq subquantizer %d: %w", s, err)
		}
		pq.Codebooks[s] = cb
	}
	return pq, nil
}

// encode maps a vector to its m-byte code.
func (pq *productQuantizer) encode(v []float32) []byte {
	code := make([]byte, pq.M)
	for s := 0; s < pq.M; s++ {
		idx, _ := nearestCentroid(v[s*pq.Dsub:(s+1)*pq.Dsub], pq.Codebooks[s])
		code[s] = byte(idx)
	}
	return code
}

// distanceTable precomputes squared distances from each subvector of q to
// every codebook entry, so scanning a code is m table lookups.
func (pq *productQuantizer) distanceTable(q []float32) [][]float32 {
	table := make([][]float32, pq.M)
	for s := 0; s < pq.M; s++ {
		qs := q[s*pq.Dsub : (s+1)*pq.Dsub]
		row := make([]float32, len(pq.Codebooks[s]))
		for i, c := range pq.Codebooks[s] {
			row[i] = l2sq(qs, c)
		}
		table[s] = row
	}
	return table
}

// codeDistance sums the precomputed table over a stored code.
func codeDistance(table [][]float32, code []byte) float32 {
	var sum float32
	for s, b := range code {
		sum += table[s][b]
	}
	return sum
}
