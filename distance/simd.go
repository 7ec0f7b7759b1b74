package distance

import (
	"math"
	"sync"

	"github.com/viterin/vek/vek32"
)

// SIMD kernels built on vek. vek performs its own CPU capability dispatch,
// so these are safe on any supported architecture.

var diffPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 1024)
		return &s
	},
}

func dotSIMD(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

func squaredL2SIMD(a, b []float32) float32 {
	bufp := diffPool.Get().(*[]float32)
	buf := (*bufp)[:0]
	if cap(buf) < len(a) {
		buf = make([]float32, len(a))
	} else {
		buf = buf[:len(a)]
	}

	copy(buf, a)
	vek32.Sub_Inplace(buf, b)
	d := vek32.Dot(buf, buf)

	*bufp = buf
	diffPool.Put(bufp)
	return d
}

func negDotSIMD(a, b []float32) float32 {
	return -vek32.Dot(a, b)
}

func cosineDistanceSIMD(a, b []float32) float32 {
	dot := vek32.Dot(a, b)
	na := float32(math.Sqrt(float64(vek32.Dot(a, a))))
	nb := float32(math.Sqrt(float64(vek32.Dot(b, b))))
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(na*nb)
}
