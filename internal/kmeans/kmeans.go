// Package kmeans implements Lloyd's algorithm over flattened float32
// vectors. It is the coarse quantizer behind the IVF index.
package kmeans

import (
	"math"
	"math/rand"
	"sort"

	"github.com/piramidhq/piramid/distance"
)

// Train trains k centroids from the given flattened vectors (n * dim).
// It returns the flattened centroids (k * dim), or nil when there are fewer
// vectors than clusters.
func Train(vectors []float32, dim, k, maxIter int, dist distance.Func, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	if n < k || k <= 0 {
		return nil
	}

	centroids := make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := range k {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for range maxIter {
		changed := false

		for i := range n {
			vec := vectors[i*dim : (i+1)*dim]
			best, bestDist := -1, float32(math.MaxFloat32)
			for j := range k {
				d := dist(vec, centroids[j*dim:(j+1)*dim])
				if d < bestDist {
					bestDist = d
					best = j
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		clear(sums)
		clear(counts)
		for i := range n {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := range dim {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}

		for j := range k {
			if counts[j] > 0 {
				inv := 1 / float32(counts[j])
				for d := range dim {
					centroids[j*dim+d] = sums[j*dim+d] * inv
				}
			} else {
				// Re-seed an empty cluster from a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids
}

// Assign returns the index of the closest centroid for vec.
func Assign(vec, centroids []float32, dim int, dist distance.Func) int {
	k := len(centroids) / dim
	best, bestDist := -1, float32(math.MaxFloat32)
	for j := range k {
		d := dist(vec, centroids[j*dim:(j+1)*dim])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

// Closest returns the indices of the n closest centroids to query, nearest
// first.
func Closest(query, centroids []float32, dim, n int, dist distance.Func) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	type cd struct {
		id   int
		dist float32
	}
	dists := make([]cd, k)
	for i := range k {
		dists[i] = cd{id: i, dist: dist(query, centroids[i*dim:(i+1)*dim])}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	out := make([]int, n)
	for i := range n {
		out[i] = dists[i].id
	}
	return out
}
