package kmeans

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piramidhq/piramid/distance"
)

func TestTrainSeparatesClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	dim := 4

	// Two well-separated blobs around (0,...) and (10,...).
	var vectors []float32
	for i := range 200 {
		base := float32(0)
		if i%2 == 1 {
			base = 10
		}
		for range dim {
			vectors = append(vectors, base+rng.Float32()*0.5)
		}
	}

	centroids := Train(vectors, dim, 2, 25, distance.SquaredL2, rng)
	require.Len(t, centroids, 2*dim)

	// One centroid near each blob.
	lo, hi := centroids[:dim], centroids[dim:]
	if lo[0] > hi[0] {
		lo, hi = hi, lo
	}
	assert.Less(t, lo[0], float32(2))
	assert.Greater(t, hi[0], float32(8))

	// Assignment agrees with proximity.
	near := []float32{0.1, 0.1, 0.1, 0.1}
	far := []float32{10.2, 10.1, 10.0, 9.9}
	assert.NotEqual(t,
		Assign(near, centroids, dim, distance.SquaredL2),
		Assign(far, centroids, dim, distance.SquaredL2))
}

func TestTrainTooFewVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Nil(t, Train([]float32{1, 2}, 2, 4, 10, distance.SquaredL2, rng))
}

func TestClosestOrdering(t *testing.T) {
	centroids := []float32{
		0, 0,
		5, 0,
		10, 0,
	}
	got := Closest([]float32{6, 0}, centroids, 2, 2, distance.SquaredL2)
	assert.Equal(t, []int{1, 2}, got)

	// n larger than k clamps.
	got = Closest([]float32{0, 0}, centroids, 2, 10, distance.SquaredL2)
	assert.Len(t, got, 3)
	assert.Equal(t, 0, got[0])
}
