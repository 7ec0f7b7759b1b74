// Package distance provides the metric kernels used for vector comparison.
//
// Every metric is exposed through two code paths: a plain scalar loop and a
// lane-wide SIMD path built on vek (AVX2/AVX512 on x86-64, NEON on ARM64,
// with a pure-Go fallback). The active path is chosen once per Kernel from
// the configured execution Mode.
//
// Internally all kernels produce a *distance* (lower is better) so the
// indexes can stay metric-agnostic; Similarity converts a raw distance into
// the score reported to callers (cosine similarity, dot product, or
// 1/(1+euclidean) respectively).
package distance
